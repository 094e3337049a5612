package backend

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/gt3pedia/backend/core/access"
	"github.com/gt3pedia/backend/core/logger"
)

// Seed loads bulk catalog files from dataDir into collections that are
// still empty. Each collection reads <dataDir>/<resource>.json, a JSON
// array of objects keyed by column name; records pass through the same
// whitelist and coercion as client input. Missing files are skipped,
// malformed files are logged and skipped; a populated collection is left
// alone.
func (b *Backend) Seed(dataDir string) error {
	nillog := logger.Default()
	for _, rc := range b.config.Collections {
		helper := b.collectionHelper[rc.Resource]
		count, err := helper.count()
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		path := filepath.Join(dataDir, rc.Resource+".json")
		raw, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		var records []map[string]interface{}
		if err := json.Unmarshal(raw, &records); err != nil {
			nillog.WithError(err).Warnf("skipping malformed seed file %s", path)
			continue
		}
		seeded := 0
		for _, record := range records {
			if _, err := helper.insert(record); err != nil {
				if err == errNothingToPersist {
					continue
				}
				return err
			}
			seeded++
		}
		if seeded > 0 {
			nillog.Infof("seeded %d rows into %s", seeded, rc.Resource)
		}
	}
	return nil
}

// EnsureAdminAccount creates the given administrator account when the
// users table is still empty, so a fresh deployment has a way in.
func (b *Backend) EnsureAdminAccount(email, password, displayName string) error {
	var count int64
	if err := b.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	digest, err := access.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = b.insertUser(normalizeEmail(email), digest, displayName, access.RoleAdmin)
	if err == nil {
		logger.Default().Infoln("created initial administrator account:", normalizeEmail(email))
	}
	return err
}
