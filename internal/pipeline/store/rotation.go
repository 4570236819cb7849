package store

import (
	"fmt"
)

// RotationCity is one city_rotation row as seen by discovery.
type RotationCity struct {
	Name     string
	Country  string
	Language string
}

// NextCity returns the next city to search: never-searched cities first,
// then the least recently searched, ties broken by lowest search count.
func (s *Store) NextCity() (RotationCity, error) {
	var c RotationCity
	err := s.db.QueryRow(`
		SELECT city_name, country, language
		FROM city_rotation
		ORDER BY
			CASE WHEN last_searched IS NULL THEN '1900-01-01' ELSE last_searched END ASC,
			search_count ASC
		LIMIT 1`).Scan(&c.Name, &c.Country, &c.Language)
	if err != nil {
		return RotationCity{}, fmt.Errorf("next city: %w", err)
	}
	return c, nil
}

// AdvanceCity marks a city as searched today, moving it to the back of the
// rotation.
func (s *Store) AdvanceCity(cityName, country string) error {
	_, err := s.db.Exec(s.rebind(`
		UPDATE city_rotation
		SET last_searched = ?, search_count = search_count + 1
		WHERE city_name = ? AND country = ?`),
		s.today(), cityName, country)
	if err != nil {
		return fmt.Errorf("advance city: %w", err)
	}
	return nil
}

// ResetRotationTo forces the next pick to the given city by marking every
// row as searched today and clearing the target. Country is optional; when
// empty, any row with the city name is cleared. Returns whether a row
// matched.
func (s *Store) ResetRotationTo(cityName, country string) (bool, error) {
	if _, err := s.db.Exec(s.rebind(
		`UPDATE city_rotation SET last_searched = ?, search_count = 1`), s.today()); err != nil {
		return false, fmt.Errorf("reset rotation: %w", err)
	}

	var (
		res interface{ RowsAffected() (int64, error) }
		err error
	)
	if country != "" {
		res, err = s.db.Exec(s.rebind(`
			UPDATE city_rotation
			SET last_searched = NULL, search_count = 0
			WHERE city_name = ? AND country = ?`), cityName, country)
	} else {
		res, err = s.db.Exec(s.rebind(`
			UPDATE city_rotation
			SET last_searched = NULL, search_count = 0
			WHERE city_name = ?`), cityName)
	}
	if err != nil {
		return false, fmt.Errorf("reset rotation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CityCount reports the rotation size.
func (s *Store) CityCount() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM city_rotation").Scan(&n)
	return n, err
}
