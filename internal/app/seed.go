package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-dose-engine/internal/domain"
	"github.com/tbourn/go-dose-engine/internal/notify"
	"github.com/tbourn/go-dose-engine/internal/quiethours"
	"github.com/tbourn/go-dose-engine/internal/repo"
)

// SeedFile is the JSON document accepted by Seed. Items are owned by the
// medication CRUD surface; the seed lets a standalone daemon start with data.
type SeedFile struct {
	Items []SeedItem `json:"items" validate:"dive"`
}

// SeedItem is one medication with its schedules and optional stock.
type SeedItem struct {
	ID               string          `json:"id"                validate:"required"`
	Name             string          `json:"name"              validate:"required"`
	Category         domain.Category `json:"category"`
	WithFood         bool            `json:"with_food"`
	Notes            string          `json:"notes"`
	DoseText         string          `json:"dose_text"`
	NotificationType string          `json:"notification_type" validate:"omitempty,oneof=gentle normal urgent critical"`
	Schedules        []SeedSchedule  `json:"schedules"         validate:"dive"`
	Stock            *SeedStock      `json:"stock"`
}

// SeedSchedule mirrors domain.Schedule.
type SeedSchedule struct {
	Frequency domain.Frequency `json:"frequency" validate:"required,oneof=daily specific_days weekly"`
	Times     []string         `json:"times"     validate:"min=1"`
	Weekdays  []int            `json:"weekdays"  validate:"dive,min=0,max=6"`
}

// SeedStock sets the initial counters of a tracked item.
type SeedStock struct {
	UnitsLeft  int `json:"units_left"  validate:"min=0"`
	UnitsTotal int `json:"units_total" validate:"min=0"`
}

// LoadSeed reads a seed document from path and applies it with Seed.
func LoadSeed(ctx context.Context, db *gorm.DB, path, userID string, now time.Time, log zerolog.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return Seed(ctx, db, f, userID, now, log)
}

// Seed decodes and validates a seed document, then inserts every item whose
// ID is not stored yet, with its schedules and stock, in one transaction.
// Existing items are left untouched, so reseeding is harmless. It returns the
// number of items created.
func Seed(ctx context.Context, db *gorm.DB, r io.Reader, userID string, now time.Time, log zerolog.Logger) (int, error) {
	var doc SeedFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return 0, fmt.Errorf("invalid seed: %w", err)
	}
	for _, it := range doc.Items {
		for _, s := range it.Schedules {
			for _, hm := range s.Times {
				if _, err := quiethours.ParseClock(hm); err != nil {
					return 0, fmt.Errorf("item %s: %w", it.ID, err)
				}
			}
		}
	}

	ids := make([]string, 0, len(doc.Items))
	for _, it := range doc.Items {
		ids = append(ids, it.ID)
	}

	created := 0
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := repo.GetItems(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, it := range doc.Items {
			if _, ok := existing[it.ID]; ok {
				continue
			}
			item := domain.MedicationItem{
				ID:       it.ID,
				UserID:   userID,
				Name:     it.Name,
				Category: it.Category,
				Active:   true,
				WithFood: it.WithFood,
				Notes:    it.Notes,
				DoseText: it.DoseText,
			}
			if item.Category == "" {
				item.Category = domain.CategoryMedication
			}
			if it.NotificationType != "" {
				t, _ := notify.ParseType(it.NotificationType)
				v := t.String()
				item.NotificationType = &v
			}
			if err := repo.CreateItem(ctx, tx, &item); err != nil {
				return err
			}
			for _, s := range it.Schedules {
				sch := domain.Schedule{
					ItemID:    item.ID,
					Frequency: s.Frequency,
					Times:     s.Times,
					Weekdays:  s.Weekdays,
					Active:    true,
					StartsOn:  now,
				}
				if err := repo.CreateSchedule(ctx, tx, &sch); err != nil {
					return err
				}
			}
			if it.Stock != nil {
				total := it.Stock.UnitsTotal
				if total < it.Stock.UnitsLeft {
					total = it.Stock.UnitsLeft
				}
				if err := repo.SetStock(ctx, tx, &domain.StockRecord{
					ItemID:     item.ID,
					UnitsLeft:  it.Stock.UnitsLeft,
					UnitsTotal: total,
				}); err != nil {
					return err
				}
			}
			created++
			log.Debug().Str("item_id", item.ID).Int("schedules", len(it.Schedules)).Msg("seeded item")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.Info().Int("created", created).Int("items", len(doc.Items)).Msg("seed applied")
	return created, nil
}
