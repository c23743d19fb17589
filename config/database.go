package config

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// InitDB opens the reference store's database. mysql in production, sqlite
// for development and tests.
func InitDB(cfg DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		// one writer at a time, otherwise sqlite reports "database is locked"
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	utils.InfoLogger.Printf("Connected to %s database", cfg.Driver)
	return db, nil
}

func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.StaffUser{},
		&models.MenuItem{},
		&models.Table{},
		&models.Order{},
		&models.OrderItem{},
		&models.KOT{},
		&models.KOTItem{},
		&models.TableTransfer{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	utils.InfoLogger.Println("AutoMigrate completed.")
	return nil
}

// SeedStaff creates a staff account unless the email is already taken.
func SeedStaff(db *gorm.DB, name, email, password, subRole string) (*models.StaffUser, error) {
	var existing models.StaffUser
	if err := db.Where("email = ?", email).First(&existing).Error; err == nil {
		return &existing, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := models.StaffUser{
		Name:     name,
		Email:    email,
		Password: string(hashed),
		Role:     models.RoleRestaurant,
		SubRole:  subRole,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fmt.Errorf("seed %s: %w", email, err)
	}
	return &user, nil
}
