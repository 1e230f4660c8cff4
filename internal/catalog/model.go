package catalog

import (
	"time"

	"gorm.io/datatypes"
)

// ChangeType distinguishes the two kinds of ledger mutations recorded in the
// change log.
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeRevise ChangeType = "revise"
)

// License codes, matching the upload form choices.
const (
	LicenseCC0 = iota
	LicenseCCBY
	LicenseCCBYSA
	LicenseODbL
)

var licenseNames = map[int]string{
	LicenseCC0:    "CC0",
	LicenseCCBY:   "CC-BY 4.0",
	LicenseCCBYSA: "CC-BY-SA 4.0",
	LicenseODbL:   "ODbL",
}

// LicenseName returns the display name for a license code, or "" when the
// code is unknown.
func LicenseName(code int) string {
	return licenseNames[code]
}

// Model is one immutable-after-creation revision of a 3D model. ModelID is
// stable across revisions of the same logical model; exactly one row per
// ModelID carries Latest=true while any revisions remain.
type Model struct {
	ID       uint `gorm:"primaryKey"`
	ModelID  int  `gorm:"column:model_id;not null;uniqueIndex:idx_models_model_revision,priority:1;index:idx_models_latest,priority:1"`
	Revision int  `gorm:"column:revision;not null;uniqueIndex:idx_models_model_revision,priority:2"`

	Title               string `gorm:"column:title;size:32;not null"`
	Description         string `gorm:"column:description;size:512"`
	RenderedDescription string `gorm:"column:rendered_description;size:4096"`

	AuthorUID  string    `gorm:"column:author_uid;size:190;not null;index"`
	UploadDate time.Time `gorm:"column:upload_date;not null"`

	// Owned location pair. Both set or both null; revisions clone the
	// values, never share them.
	Latitude  *float64 `gorm:"column:latitude"`
	Longitude *float64 `gorm:"column:longitude"`

	Source  string            `gorm:"column:source;size:1024"`
	License int               `gorm:"column:license;not null"`
	Tags    datatypes.JSONMap `gorm:"column:tags"`

	Categories []Category `gorm:"many2many:model_categories;joinForeignKey:RecordID;joinReferences:CategoryID"`

	// Render-time transform.
	Rotation     float64 `gorm:"column:rotation;not null;default:0"`
	Scale        float64 `gorm:"column:scale;not null;default:1"`
	TranslationX float64 `gorm:"column:translation_x;not null;default:0"`
	TranslationY float64 `gorm:"column:translation_y;not null;default:0"`
	TranslationZ float64 `gorm:"column:translation_z;not null;default:0"`

	Hidden bool `gorm:"column:hidden;not null;default:false"`
	Latest bool `gorm:"column:latest;not null;index:idx_models_latest,priority:2"`
}

// TableName exposes the table backing model revisions.
func (Model) TableName() string {
	return "models"
}

// TagMap converts the stored JSON tag column to a plain string map.
func (m *Model) TagMap() map[string]string {
	tags := make(map[string]string, len(m.Tags))
	for key, value := range m.Tags {
		text, ok := value.(string)
		if !ok {
			continue
		}
		tags[key] = text
	}
	return tags
}

// CategoryNames lists the names of the loaded category associations.
func (m *Model) CategoryNames() []string {
	names := make([]string, 0, len(m.Categories))
	for _, category := range m.Categories {
		names = append(names, category.Name)
	}
	return names
}

// Category is a shared label, created on demand and never deleted even when
// no model references it anymore.
type Category struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"column:name;size:256;not null;uniqueIndex"`
}

// TableName exposes the table backing categories.
func (Category) TableName() string {
	return "categories"
}

// Comment is a free-text annotation on one specific revision. Comments are
// never edited or moved between revisions; moderation hides them.
type Comment struct {
	ID           uint      `gorm:"primaryKey"`
	RecordID     uint      `gorm:"column:record_id;not null;index"`
	AuthorUID    string    `gorm:"column:author_uid;size:190;not null"`
	Body         string    `gorm:"column:body;size:1024;not null"`
	RenderedBody string    `gorm:"column:rendered_body;size:4096"`
	Hidden       bool      `gorm:"column:hidden;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing comments.
func (Comment) TableName() string {
	return "comments"
}

// Change is one append-only audit entry: who created or revised which
// revision, and when. Entries are only removed by whole-model deletion.
type Change struct {
	ChangeID  string     `gorm:"column:change_id;primaryKey;size:190;not null"`
	AuthorUID string     `gorm:"column:author_uid;size:190;not null;index"`
	RecordID  uint       `gorm:"column:record_id;not null;index"`
	Type      ChangeType `gorm:"column:type;size:16;not null"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing the change log.
func (Change) TableName() string {
	return "changes"
}

// Metadata is the caller-supplied description of a revision. Latitude and
// Longitude must be supplied together or not at all.
type Metadata struct {
	Title        string
	Description  string
	Tags         map[string]string
	Categories   []string
	Latitude     *float64
	Longitude    *float64
	Source       string
	License      int
	Rotation     float64
	Scale        float64
	TranslationX float64
	TranslationY float64
	TranslationZ float64
}

func (meta Metadata) validate(operation string) error {
	if meta.Title == "" {
		return validationError(operation, "missing_title", "title is required")
	}
	if len(meta.Title) > 32 {
		return validationError(operation, "title_too_long", "title exceeds 32 characters")
	}
	if len(meta.Description) > 512 {
		return validationError(operation, "description_too_long", "description exceeds 512 characters")
	}
	if _, known := licenseNames[meta.License]; !known {
		return validationError(operation, "unknown_license", "unknown license code")
	}
	if (meta.Latitude == nil) != (meta.Longitude == nil) {
		return validationError(operation, "partial_location", "latitude and longitude must be supplied together")
	}
	if meta.Latitude != nil {
		if *meta.Latitude < -90 || *meta.Latitude > 90 {
			return validationError(operation, "invalid_latitude", "latitude out of range")
		}
		if *meta.Longitude < -180 || *meta.Longitude > 180 {
			return validationError(operation, "invalid_longitude", "longitude out of range")
		}
	}
	if meta.Rotation < 0 || meta.Rotation > 360 {
		return validationError(operation, "invalid_rotation", "rotation must be within [0, 360]")
	}
	return nil
}

func tagsToJSON(tags map[string]string) datatypes.JSONMap {
	stored := make(datatypes.JSONMap, len(tags))
	for key, value := range tags {
		stored[key] = value
	}
	return stored
}
