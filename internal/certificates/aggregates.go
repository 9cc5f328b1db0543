package certificates

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// TotalCertificatesCounter names the registry_counters row holding the global total.
const TotalCertificatesCounter = "total_certificates"

const (
	queryCounterName = "name = ?"
	orderCategoryAsc = "category ASC"
)

// AggregateIndex maintains the registry counters alongside record writes.
// Counters use creation-time attribution: they only grow, once per created certificate.
type AggregateIndex struct {
	db *gorm.DB
}

// NewAggregateIndex binds an AggregateIndex to a connection or an open transaction.
func NewAggregateIndex(db *gorm.DB) AggregateIndex {
	return AggregateIndex{db: db}
}

// IncrementTotal adds one to the global certificate counter and returns the new value.
func (index AggregateIndex) IncrementTotal(ctx context.Context) (int64, error) {
	counter, err := index.loadCounter(ctx, TotalCertificatesCounter)
	if err != nil {
		return 0, err
	}
	counter.Value++
	if err := index.db.WithContext(ctx).Save(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// IncrementCategory adds one to the category counter and returns the new value.
func (index AggregateIndex) IncrementCategory(ctx context.Context, category string) (int64, error) {
	var counter CategoryCounter
	err := index.db.WithContext(ctx).
		Where(queryCategory, category).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = CategoryCounter{Category: category}
	} else if err != nil {
		return 0, err
	}
	counter.Count++
	if err := index.db.WithContext(ctx).Save(&counter).Error; err != nil {
		return 0, err
	}
	return counter.Count, nil
}

// Total returns the number of certificates ever created.
func (index AggregateIndex) Total(ctx context.Context) (int64, error) {
	counter, err := index.loadCounter(ctx, TotalCertificatesCounter)
	if err != nil {
		return 0, err
	}
	return counter.Value, nil
}

// CategoryCount returns the number of certificates created under the category.
func (index AggregateIndex) CategoryCount(ctx context.Context, category string) (int64, error) {
	var counter CategoryCounter
	err := index.db.WithContext(ctx).
		Where(queryCategory, category).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return counter.Count, nil
}

// CategoryCounts returns every category counter ordered by label.
func (index AggregateIndex) CategoryCounts(ctx context.Context) ([]CategoryCount, error) {
	var counters []CategoryCounter
	if err := index.db.WithContext(ctx).
		Order(orderCategoryAsc).
		Find(&counters).Error; err != nil {
		return nil, err
	}
	counts := make([]CategoryCount, 0, len(counters))
	for _, counter := range counters {
		counts = append(counts, CategoryCount{Category: counter.Category, Count: counter.Count})
	}
	return counts, nil
}

func (index AggregateIndex) loadCounter(ctx context.Context, name string) (RegistryCounter, error) {
	var counter RegistryCounter
	err := index.db.WithContext(ctx).
		Where(queryCounterName, name).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RegistryCounter{Name: name}, nil
	}
	if err != nil {
		return RegistryCounter{}, err
	}
	return counter, nil
}
