package entity

import (
	"fmt"
	"strings"
)

// ItemKey identifies one running-balance chain: a company's item.
// All recalculation is serialized per ItemKey.
type ItemKey struct {
	CompanyCode string `db:"company_code" json:"companyCode"`
	ItemCode    string `db:"item_code" json:"itemCode"`
}

// NewItemKey trims both codes.
func NewItemKey(companyCode, itemCode string) ItemKey {
	return ItemKey{
		CompanyCode: strings.TrimSpace(companyCode),
		ItemCode:    strings.TrimSpace(itemCode),
	}
}

// IsZero reports whether either code is missing.
func (k ItemKey) IsZero() bool {
	return k.CompanyCode == "" || k.ItemCode == ""
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%s", k.CompanyCode, k.ItemCode)
}

// Item is the master-data record of a stocked item (barang).
type Item struct {
	ItemKey

	// ItemType is the customs classification (raw material, finished goods, scrap...)
	ItemType string `db:"item_type" json:"itemType"`
	ItemName string `db:"item_name" json:"itemName"`
	UOM      string `db:"uom" json:"uom"`
}
