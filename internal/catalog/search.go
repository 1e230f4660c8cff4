package catalog

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fossgis/3dmr/internal/geo"
	"github.com/fossgis/3dmr/internal/users"
)

// PageSize is the fixed number of results per search page.
const PageSize = 20

// LocationFilter restricts results to points within RadiusMeters great-circle
// meters of the center, approximated by a bounding-box pre-filter.
type LocationFilter struct {
	Latitude     float64
	Longitude    float64
	RadiusMeters float64
}

// Filters are ANDed together; the zero value matches every latest revision
// visible to the viewer.
type Filters struct {
	AuthorUID  string
	Title      string
	Tags       map[string]string
	Categories []string
	Location   *LocationFilter
}

// Search returns one page of model_ids for the latest revisions matching all
// supplied filters, ordered by model_id ascending with ties broken by
// insertion order. Pages are 1-indexed; a page beyond the last match returns
// an empty list, never an error.
func (s *Service) Search(ctx context.Context, viewer users.Actor, filters Filters, page int) ([]int, error) {
	if page < 1 {
		return nil, validationError(opSearch, "invalid_page", "page must be a positive integer")
	}

	query := s.visible(s.db.WithContext(ctx).Model(&Model{}), viewer).
		Where("latest = ?", true)

	if filters.AuthorUID != "" {
		query = query.Where("author_uid = ?", filters.AuthorUID)
	}
	if filters.Title != "" {
		query = query.Where("title LIKE ?", "%"+filters.Title+"%")
	}
	for key, value := range filters.Tags {
		query = query.Where(datatypes.JSONQuery("tags").Equals(value, key))
	}
	if len(filters.Categories) > 0 {
		linked := s.db.Table("model_categories").
			Select("model_categories.record_id").
			Joins("JOIN categories ON categories.id = model_categories.category_id").
			Where("categories.name IN ?", filters.Categories)
		query = query.Where("models.id IN (?)", linked)
	}
	if filters.Location != nil {
		box, err := geo.RadiusBox(filters.Location.Latitude, filters.Location.Longitude, filters.Location.RadiusMeters)
		if err != nil {
			return nil, validationError(opSearch, "invalid_location", err.Error())
		}
		query = query.
			Where("latitude IS NOT NULL AND longitude IS NOT NULL").
			Where("latitude BETWEEN ? AND ?", box.MinLat, box.MaxLat)
		if box.Wraps() {
			query = query.Where("(longitude >= ? OR longitude <= ?)", box.MinLon, box.MaxLon)
		} else {
			query = query.Where("longitude BETWEEN ? AND ?", box.MinLon, box.MaxLon)
		}
	}

	modelIDs := make([]int, 0, PageSize)
	err := query.
		Order("models.model_id ASC, models.id ASC").
		Offset((page - 1) * PageSize).
		Limit(PageSize).
		Pluck("models.model_id", &modelIDs).Error
	if err != nil {
		s.logError(opSearch, "query_failed", err, zap.Int("page", page))
		return nil, persistenceError(opSearch, "query_failed", err)
	}
	return modelIDs, nil
}
