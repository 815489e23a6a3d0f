package ingest

import (
	"fmt"

	"github.com/Georgexzy/quest-tracker/internal/core"
	"github.com/Georgexzy/quest-tracker/internal/logging"
	"github.com/Georgexzy/quest-tracker/internal/storage"
)

// Ingestor persists normalized records and triggers reconciliation.
type Ingestor struct {
	normalizer *Normalizer
	steps      *storage.StepsStore
	health     *storage.HealthStore
	log        *logging.Logger

	// AfterIngest runs after records were persisted, when at least one step
	// record was produced. The coordinator points it at quest recomputation.
	AfterIngest func()
}

// NewIngestor creates an ingestor over the given stores.
func NewIngestor(normalizer *Normalizer, steps *storage.StepsStore, health *storage.HealthStore) *Ingestor {
	return &Ingestor{
		normalizer: normalizer,
		steps:      steps,
		health:     health,
		log:        logging.WithField("component", "ingest"),
	}
}

// Ingest normalizes a raw shared payload, persists every produced record,
// and triggers reconciliation when step records were written. Returns the
// number of records persisted; zero records is not an error.
func (i *Ingestor) Ingest(raw []byte) (int, error) {
	records := i.normalizer.Normalize(raw)
	if len(records) == 0 {
		i.log.Debug("payload produced no records")
		return 0, nil
	}

	stepsWritten := false
	for _, rec := range records {
		switch {
		case rec.Steps != nil:
			if _, err := i.steps.Insert(rec.Steps); err != nil {
				return 0, fmt.Errorf("insert steps record: %w", err)
			}
			stepsWritten = true
		case rec.Health != nil:
			if _, err := i.health.Insert(rec.Health); err != nil {
				return 0, fmt.Errorf("insert health record: %w", err)
			}
		}
	}

	i.log.Info("ingested %d records", len(records))

	if stepsWritten && i.AfterIngest != nil {
		i.AfterIngest()
	}

	return len(records), nil
}

// IngestSteps persists a single step record directly (message-based save or
// API write) and triggers reconciliation.
func (i *Ingestor) IngestSteps(rec *core.StepsRecord) (int64, error) {
	id, err := i.steps.Insert(rec)
	if err != nil {
		return 0, err
	}
	if i.AfterIngest != nil {
		i.AfterIngest()
	}
	return id, nil
}
