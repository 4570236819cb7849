package store

import (
	"testing"
)

func TestCityRotationIsAPermutationCycle(t *testing.T) {
	s := newTestStore(t)

	total, err := s.CityCount()
	if err != nil {
		t.Fatalf("CityCount: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < total; i++ {
		city, err := s.NextCity()
		if err != nil {
			t.Fatalf("NextCity: %v", err)
		}
		key := city.Name + "|" + city.Country
		if seen[key] {
			t.Fatalf("city %s repeated before the cycle completed (pick %d of %d)", key, i+1, total)
		}
		seen[key] = true
		if err := s.AdvanceCity(city.Name, city.Country); err != nil {
			t.Fatalf("AdvanceCity: %v", err)
		}
	}
	if len(seen) != total {
		t.Errorf("cycle covered %d of %d cities", len(seen), total)
	}
}

func TestAdvanceCityMovesItToTheBack(t *testing.T) {
	s := newTestStore(t)

	first, err := s.NextCity()
	if err != nil {
		t.Fatalf("NextCity: %v", err)
	}
	if err := s.AdvanceCity(first.Name, first.Country); err != nil {
		t.Fatalf("AdvanceCity: %v", err)
	}

	second, err := s.NextCity()
	if err != nil {
		t.Fatalf("NextCity: %v", err)
	}
	if second.Name == first.Name && second.Country == first.Country {
		t.Errorf("advanced city %s was picked again immediately", first.Name)
	}
}

func TestResetRotationForcesNextPick(t *testing.T) {
	s := newTestStore(t)

	// Burn through a few cities first.
	for i := 0; i < 3; i++ {
		city, err := s.NextCity()
		if err != nil {
			t.Fatalf("NextCity: %v", err)
		}
		if err := s.AdvanceCity(city.Name, city.Country); err != nil {
			t.Fatalf("AdvanceCity: %v", err)
		}
	}

	ok, err := s.ResetRotationTo("Lima", "Peru")
	if err != nil {
		t.Fatalf("ResetRotationTo: %v", err)
	}
	if !ok {
		t.Fatal("reset matched no city")
	}

	next, err := s.NextCity()
	if err != nil {
		t.Fatalf("NextCity: %v", err)
	}
	if next.Name != "Lima" || next.Country != "Peru" {
		t.Errorf("next city = %s, %s; want Lima, Peru", next.Name, next.Country)
	}
}

func TestResetRotationWithoutCountry(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.ResetRotationTo("Montevideo", "")
	if err != nil {
		t.Fatalf("ResetRotationTo: %v", err)
	}
	if !ok {
		t.Fatal("reset matched no city")
	}
	next, err := s.NextCity()
	if err != nil {
		t.Fatalf("NextCity: %v", err)
	}
	if next.Name != "Montevideo" {
		t.Errorf("next city = %s, want Montevideo", next.Name)
	}

	ok, err = s.ResetRotationTo("Atlantis", "")
	if err != nil {
		t.Fatalf("ResetRotationTo: %v", err)
	}
	if ok {
		t.Error("reset to unknown city reported success")
	}
}
