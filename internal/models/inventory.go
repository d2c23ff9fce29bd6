package models

type InventoryRecord struct {
	ProductID      string `bson:"_id" json:"productId"`
	QuantityOnHand int    `bson:"quantityOnHand" json:"quantityOnHand"`
}
