// Package store is the persistence layer over SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/birthdayd/internal/model"
)

// ErrNotFound is returned when a birthday id does not exist.
var ErrNotFound = errors.New("birthday not found")

type BirthdayStore struct {
	db *sql.DB
}

func NewBirthdayStore(db *sql.DB) *BirthdayStore {
	return &BirthdayStore{db: db}
}

// All returns every birthday ordered by date, ages computed for now.
func (s *BirthdayStore) All(ctx context.Context, now time.Time) ([]model.Birthday, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, birthday, photo, gender FROM birthdays ORDER BY birthday`)
	if err != nil {
		return nil, fmt.Errorf("list birthdays: %w", err)
	}
	defer rows.Close()
	return scanBirthdays(rows, now)
}

// Today returns the birthdays whose month and day match now, regardless of
// year.
func (s *BirthdayStore) Today(ctx context.Context, now time.Time) ([]model.Birthday, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, birthday, photo, gender FROM birthdays
		 WHERE strftime('%m-%d', birthday) = ? ORDER BY name`,
		now.Format("01-02"))
	if err != nil {
		return nil, fmt.Errorf("today's birthdays: %w", err)
	}
	defer rows.Close()
	return scanBirthdays(rows, now)
}

// Get returns one birthday by id.
func (s *BirthdayStore) Get(ctx context.Context, id int64, now time.Time) (model.Birthday, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, birthday, photo, gender FROM birthdays WHERE id = ?`, id)

	b, err := scanBirthday(row, now)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Birthday{}, ErrNotFound
	}
	if err != nil {
		return model.Birthday{}, fmt.Errorf("get birthday %d: %w", id, err)
	}
	return b, nil
}

// Create inserts a birthday and returns it with its assigned id.
func (s *BirthdayStore) Create(ctx context.Context, b model.Birthday, now time.Time) (model.Birthday, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO birthdays (name, birthday, photo, gender) VALUES (?, ?, ?, ?)`,
		b.Name, b.Birthday, b.Photo, b.Gender)
	if err != nil {
		return model.Birthday{}, fmt.Errorf("create birthday: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Birthday{}, err
	}
	b.ID = id
	b.Age = model.AgeOn(b.Birthday, now)
	return b, nil
}

// Update replaces a birthday's fields. ErrNotFound when the id is unknown.
func (s *BirthdayStore) Update(ctx context.Context, b model.Birthday, now time.Time) (model.Birthday, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE birthdays SET name = ?, birthday = ?, photo = ?, gender = ? WHERE id = ?`,
		b.Name, b.Birthday, b.Photo, b.Gender, b.ID)
	if err != nil {
		return model.Birthday{}, fmt.Errorf("update birthday %d: %w", b.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.Birthday{}, err
	}
	if affected == 0 {
		return model.Birthday{}, ErrNotFound
	}
	b.Age = model.AgeOn(b.Birthday, now)
	return b, nil
}

// Delete removes a birthday. ErrNotFound when the id is unknown.
func (s *BirthdayStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM birthdays WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete birthday %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceAll swaps the whole table for the given rows in one transaction.
// Used by imports, where partial application would corrupt the dataset.
func (s *BirthdayStore) ReplaceAll(ctx context.Context, birthdays []model.Birthday) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM birthdays`); err != nil {
		return fmt.Errorf("clear birthdays: %w", err)
	}
	for _, b := range birthdays {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO birthdays (name, birthday, photo, gender) VALUES (?, ?, ?, ?)`,
			b.Name, b.Birthday, b.Photo, b.Gender); err != nil {
			return fmt.Errorf("import birthday %q: %w", b.Name, err)
		}
	}
	return tx.Commit()
}

// InsertAll appends rows without touching existing ones. Used by merge-mode
// imports.
func (s *BirthdayStore) InsertAll(ctx context.Context, birthdays []model.Birthday) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range birthdays {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO birthdays (name, birthday, photo, gender) VALUES (?, ?, ?, ?)`,
			b.Name, b.Birthday, b.Photo, b.Gender); err != nil {
			return fmt.Errorf("import birthday %q: %w", b.Name, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBirthday(row rowScanner, now time.Time) (model.Birthday, error) {
	var b model.Birthday
	if err := row.Scan(&b.ID, &b.Name, &b.Birthday, &b.Photo, &b.Gender); err != nil {
		return model.Birthday{}, err
	}
	b.Age = model.AgeOn(b.Birthday, now)
	return b, nil
}

func scanBirthdays(rows *sql.Rows, now time.Time) ([]model.Birthday, error) {
	birthdays := []model.Birthday{}
	for rows.Next() {
		b, err := scanBirthday(rows, now)
		if err != nil {
			return nil, err
		}
		birthdays = append(birthdays, b)
	}
	return birthdays, rows.Err()
}
