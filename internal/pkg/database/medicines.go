package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pharmabot/dispenser-controller/internal/pkg/model"
)

func (db *Database) InsertMedicine(ctx context.Context, med model.Medicine) (int64, error) {
	const insertSQL = `
	INSERT INTO medicines (owner_id, name, dosage, frequency_spec, compartment, start_date, duration_days, instructions, active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
	RETURNING id;
	`
	var id int64
	err := db.pool.QueryRow(ctx, insertSQL,
		med.OwnerID, med.Name, med.Dosage, med.FrequencySpec, med.Compartment,
		med.StartDate, med.DurationDays, med.Instructions).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (db *Database) GetMedicine(ctx context.Context, medicineID int64) (model.Medicine, error) {
	const query = `
	SELECT id, owner_id, name, dosage, frequency_spec, compartment, start_date, duration_days, instructions, active
	FROM medicines
	WHERE id = $1;
	`
	var med model.Medicine
	err := db.pool.QueryRow(ctx, query, medicineID).Scan(
		&med.ID, &med.OwnerID, &med.Name, &med.Dosage, &med.FrequencySpec,
		&med.Compartment, &med.StartDate, &med.DurationDays, &med.Instructions, &med.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Medicine{}, fmt.Errorf("medicine %d: %w", medicineID, ErrNotFound)
		}
		return model.Medicine{}, err
	}
	return med, nil
}

func (db *Database) SetCompartment(ctx context.Context, medicineID int64, compartment int) error {
	tag, err := db.pool.Exec(ctx, `UPDATE medicines SET compartment = $2 WHERE id = $1`, medicineID, compartment)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("medicine %d: %w", medicineID, ErrNotFound)
	}
	return nil
}

func (db *Database) MedicinesForOwner(ctx context.Context, ownerID string) ([]model.Medicine, error) {
	const query = `
	SELECT id, owner_id, name, dosage, frequency_spec, compartment, start_date, duration_days, instructions, active
	FROM medicines
	WHERE owner_id = $1 AND active
	ORDER BY id;
	`
	rows, err := db.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var medicines []model.Medicine
	for rows.Next() {
		var med model.Medicine
		if err := rows.Scan(&med.ID, &med.OwnerID, &med.Name, &med.Dosage, &med.FrequencySpec,
			&med.Compartment, &med.StartDate, &med.DurationDays, &med.Instructions, &med.Active); err != nil {
			return nil, err
		}
		medicines = append(medicines, med)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return medicines, nil
}
