package models

import (
	"log"

	"bitbucket.org/stitchworks/tailor_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Order{}, &OrderItem{},
		&GarmentPattern{},
		&FabricStock{}, &AccessoryStock{}, &StockMovement{},
		&PaymentInstallment{},
		&OrderHistory{},
		&Alert{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
