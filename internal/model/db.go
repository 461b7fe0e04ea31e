package model

import "gorm.io/gorm"

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return err
	}

	if err := db.AutoMigrate(&Cursor{}); err != nil {
		return err
	}

	return nil
}
