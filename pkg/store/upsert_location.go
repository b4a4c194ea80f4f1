package store

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/cleanfleet/telemetry-core/pkg/model"
)

const locationUpsertSQL = `
INSERT INTO locations (building_id, vendor, country, state, city, building, lat, lng)
VALUES (:building_id, :vendor, :country, :state, :city, :building, :lat, :lng)
ON CONFLICT (building_id) DO UPDATE SET
  vendor = EXCLUDED.vendor,
  country = EXCLUDED.country,
  state = EXCLUDED.state,
  city = EXCLUDED.city,
  building = EXCLUDED.building,
  lat = EXCLUDED.lat,
  lng = EXCLUDED.lng
`

type locationRow struct {
	BuildingID string  `db:"building_id"`
	Vendor     string  `db:"vendor"`
	Country    string  `db:"country"`
	State      string  `db:"state"`
	City       string  `db:"city"`
	Building   string  `db:"building"`
	Lat        float64 `db:"lat"`
	Lng        float64 `db:"lng"`
}

func toLocationRow(l model.Location) locationRow {
	return locationRow{
		BuildingID: l.BuildingID, Vendor: string(l.Vendor), Country: l.Country,
		State: l.State, City: l.City, Building: l.Building, Lat: l.Lat, Lng: l.Lng,
	}
}

func fromLocationRow(row locationRow) model.Location {
	return model.Location{
		BuildingID: row.BuildingID, Vendor: model.Vendor(row.Vendor), Country: row.Country,
		State: row.State, City: row.City, Building: row.Building, Lat: row.Lat, Lng: row.Lng,
	}
}

// UpsertLocations idempotently applies a batch of Location records to one
// tenant database.
func (w *Writer) UpsertLocations(ctx context.Context, database string, locations []model.Location) (UpsertResult, error) {
	return upsertBatch(ctx, w, database, model.KindLocation.Table(), locations, func(tx *sqlx.Tx, chunk []model.Location) error {
		for _, l := range chunk {
			if _, err := tx.NamedExecContext(ctx, locationUpsertSQL, toLocationRow(l)); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetLocation implements changedetect.Reader.
func (w *Writer) GetLocation(ctx context.Context, database, buildingID string) (model.Location, bool, error) {
	pool, err := w.poolFor(database)
	if err != nil {
		return model.Location{}, false, err
	}
	var row locationRow
	err = pool.GetContext(ctx, &row,
		"SELECT building_id, vendor, country, state, city, building, lat, lng FROM locations WHERE building_id = $1",
		buildingID)
	if err != nil {
		if isNoRows(err) {
			return model.Location{}, false, nil
		}
		return model.Location{}, false, classifyPGError(err)
	}
	return fromLocationRow(row), true, nil
}
