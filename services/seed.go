package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"goodsale/config"
	"goodsale/crypto"
	"goodsale/database"
)

// SeedDefaults provisions the default owner account and the package
// catalog on first boot. Both are idempotent.
func SeedDefaults(ctx context.Context, db database.Database, cryptoService *crypto.CryptoService, cfg *config.Config) {
	if err := SeedDefaultOwner(ctx, db, cryptoService, cfg); err != nil {
		log.Printf("⚠️ Failed to seed default owner: %v", err)
	}
	if err := SeedDefaultPackages(ctx, db); err != nil {
		log.Printf("⚠️ Failed to seed package catalog: %v", err)
	}
}

// SeedDefaultOwner creates the configured owner account if it does not exist
func SeedDefaultOwner(ctx context.Context, db database.Database, cryptoService *crypto.CryptoService, cfg *config.Config) error {
	if !cfg.DefaultAdminEnabled {
		log.Println("ℹ️ Default owner account disabled")
		return nil
	}
	if cfg.DefaultAdminEmail == "" || cfg.DefaultAdminPassword == "" {
		return fmt.Errorf("default owner enabled but email or password missing")
	}

	emailHash := cryptoService.HashEmail(cfg.DefaultAdminEmail)

	var existingID uuid.UUID
	err := db.QueryRow(ctx, `
		SELECT id FROM users WHERE email_hash = $1 AND deleted_at IS NULL`,
		emailHash).Scan(&existingID)
	if err == nil {
		return nil
	}

	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	passwordHash := crypto.HashPassword(cfg.DefaultAdminPassword, salt)

	encryptedEmail, err := cryptoService.Encrypt([]byte(strings.ToLower(cfg.DefaultAdminEmail)))
	if err != nil {
		return fmt.Errorf("failed to encrypt owner email: %w", err)
	}

	username := "owner"
	if at := strings.Index(cfg.DefaultAdminEmail, "@"); at > 0 {
		username = cfg.DefaultAdminEmail[:at]
	}

	var userID uuid.UUID
	err = db.QueryRow(ctx, `
		INSERT INTO users (username, email_hash, email_encrypted, password_hash, salt, pos_type, role)
		VALUES ($1, $2, $3, $4, $5, 'restaurant', 'owner')
		ON CONFLICT (username) DO NOTHING
		RETURNING id`,
		username, emailHash, encryptedEmail, passwordHash, salt).Scan(&userID)
	if err != nil {
		return fmt.Errorf("failed to create owner account: %w", err)
	}

	log.Printf("✅ Default owner account created (%s)", cfg.DefaultAdminEmail)
	return nil
}

// defaultPackages is the catalog seeded on first boot
var defaultPackages = []struct {
	name     string
	desc     string
	price    float64
	cycle    string
	features []string
}{
	{
		name:  "Starter",
		desc:  "Single store with core point of sale features",
		price: 299, cycle: "monthly",
		features: []string{"1 store", "Menu management", "Order tracking", "Cash payments"},
	},
	{
		name:  "Standard",
		desc:  "Growing shops with QR payments and stock control",
		price: 599, cycle: "monthly",
		features: []string{"3 stores", "PromptPay QR payments", "Stock management", "Daily reports", "Customer display"},
	},
	{
		name:  "Premium",
		desc:  "Multi-branch operations with loyalty and kitchen screens",
		price: 999, cycle: "monthly",
		features: []string{"Unlimited stores", "Loyalty program", "Kitchen display", "Best seller analytics", "LINE notifications"},
	},
	{
		name:  "Premium",
		desc:  "Premium paid yearly, two months free",
		price: 9990, cycle: "yearly",
		features: []string{"Unlimited stores", "Loyalty program", "Kitchen display", "Best seller analytics", "LINE notifications"},
	},
}

// SeedDefaultPackages inserts the package catalog if packages are missing
func SeedDefaultPackages(ctx context.Context, db database.Database) error {
	for _, pkg := range defaultPackages {
		var packageID uuid.UUID
		err := db.QueryRow(ctx, `
			SELECT id FROM packages WHERE name = $1 AND billing_cycle = $2`,
			pkg.name, pkg.cycle).Scan(&packageID)
		if err == nil {
			continue
		}

		err = db.QueryRow(ctx, `
			INSERT INTO packages (name, description, price, billing_cycle)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name, billing_cycle) DO NOTHING
			RETURNING id`,
			pkg.name, pkg.desc, pkg.price, pkg.cycle).Scan(&packageID)
		if err != nil {
			return fmt.Errorf("failed to seed package %s/%s: %w", pkg.name, pkg.cycle, err)
		}

		for _, feature := range pkg.features {
			if _, err := db.Exec(ctx, `
				INSERT INTO package_features (package_id, name)
				VALUES ($1, $2)
				ON CONFLICT (package_id, name) DO NOTHING`,
				packageID, feature); err != nil {
				return fmt.Errorf("failed to seed feature %q: %w", feature, err)
			}
		}
	}

	log.Println("✅ Package catalog ready")
	return nil
}
