package catalog

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fossgis/3dmr/internal/render"
	"github.com/fossgis/3dmr/internal/users"
)

var (
	errMissingDatabase   = errors.New("catalog: database handle is required")
	errMissingFileStore  = errors.New("catalog: file store is required")
	errMissingIDProvider = errors.New("catalog: id provider is required")
	noOpLogger           = zap.NewNop()
)

// FileStore persists the binary GLB assets addressed by (model_id, revision).
// Writes happen inside the ledger transaction so a failed write rolls the
// database back; a crash after commit can still orphan files on disk.
type FileStore interface {
	Write(modelID, revision int, content io.Reader) (int64, error)
	RemoveModel(modelID int) error
}

// Authorizer decides whether an actor may perform an action on a record
// owned by ownerUID.
type Authorizer func(actor users.Actor, action users.Action, ownerUID string) users.Decision

// ServiceConfig describes the dependencies of the catalog service.
type ServiceConfig struct {
	Database   *gorm.DB
	Files      FileStore
	IDProvider IDProvider
	Authorize  Authorizer
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service is the revision ledger: it owns the "exactly one latest revision
// per model_id" invariant and every mutation of model records.
type Service struct {
	db         *gorm.DB
	files      FileStore
	idProvider IDProvider
	authorize  Authorizer
	clock      func() time.Time
	logger     *zap.Logger
}

// NewService constructs the catalog service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Files == nil {
		return nil, newServiceError(opServiceNew, "missing_file_store", errMissingFileStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	authorize := cfg.Authorize
	if authorize == nil {
		authorize = users.Authorize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		files:      cfg.Files,
		idProvider: cfg.IDProvider,
		authorize:  authorize,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create allocates a fresh model_id, stores revision 1 marked latest, writes
// the GLB content and records a change-log entry, all in one transaction.
func (s *Service) Create(ctx context.Context, actor users.Actor, meta Metadata, content io.Reader) (*Model, error) {
	if decision := s.authorize(actor, users.ActionUpload, ""); !decision.Allowed {
		return nil, deniedError(opCreate, decision.Reason)
	}
	if content == nil {
		return nil, validationError(opCreate, "missing_file", "model file is required")
	}
	if err := meta.validate(opCreate); err != nil {
		return nil, err
	}

	rendered, err := render.Markdown(meta.Description)
	if err != nil {
		s.logError(opCreate, "render_failed", err)
		return nil, persistenceError(opCreate, "render_failed", err)
	}

	var created Model
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock the current maximum so two concurrent creates cannot
		// allocate the same model_id.
		nextModelID := 1
		var top Model
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Order("model_id DESC").
			Take(&top).Error
		if err == nil {
			nextModelID = top.ModelID + 1
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opCreate, "model_id_allocation_failed", err)
			return persistenceError(opCreate, "model_id_allocation_failed", err)
		}

		categories, err := s.resolveCategories(tx, meta.Categories)
		if err != nil {
			s.logError(opCreate, "category_resolution_failed", err)
			return persistenceError(opCreate, "category_resolution_failed", err)
		}

		created = Model{
			ModelID:             nextModelID,
			Revision:            1,
			Title:               meta.Title,
			Description:         meta.Description,
			RenderedDescription: rendered,
			AuthorUID:           actor.UID,
			UploadDate:          s.clock().UTC(),
			Latitude:            copyFloat(meta.Latitude),
			Longitude:           copyFloat(meta.Longitude),
			Source:              meta.Source,
			License:             meta.License,
			Tags:                tagsToJSON(meta.Tags),
			Categories:          categories,
			Rotation:            meta.Rotation,
			Scale:               meta.Scale,
			TranslationX:        meta.TranslationX,
			TranslationY:        meta.TranslationY,
			TranslationZ:        meta.TranslationZ,
			Latest:              true,
		}
		if err := tx.Create(&created).Error; err != nil {
			s.logError(opCreate, "model_insert_failed", err, zap.Int("model_id", nextModelID))
			return persistenceError(opCreate, "model_insert_failed", err)
		}

		if err := s.appendChange(tx, actor.UID, created.ID, ChangeTypeCreate); err != nil {
			return err
		}

		if _, err := s.files.Write(created.ModelID, created.Revision, content); err != nil {
			s.logError(opCreate, "file_write_failed", err,
				zap.Int("model_id", created.ModelID),
				zap.Int("revision", created.Revision))
			return persistenceError(opCreate, "file_write_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("model created",
		zap.Int("model_id", created.ModelID),
		zap.String("author", actor.UID))
	return &created, nil
}

// Revise appends a new revision to an existing model. Fields are copied
// forward from the current latest revision; a non-nil meta replaces them.
// The location is cloned, never shared, and the latest pointer moves to the
// new revision atomically.
func (s *Service) Revise(ctx context.Context, actor users.Actor, modelID int, meta *Metadata, content io.Reader) (*Model, error) {
	if decision := s.authorize(actor, users.ActionRevise, ""); !decision.Allowed {
		return nil, deniedError(opRevise, decision.Reason)
	}
	if content == nil {
		return nil, validationError(opRevise, "missing_file", "model file is required")
	}
	if meta != nil {
		if err := meta.validate(opRevise); err != nil {
			return nil, err
		}
	}

	var created Model
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest Model
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("model_id = ? AND latest = ?", modelID, true).
			Take(&latest).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError(opRevise, "model_missing")
		}
		if err != nil {
			s.logError(opRevise, "latest_select_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opRevise, "latest_select_failed", err)
		}

		var categories []Category
		if err := tx.Model(&latest).Association("Categories").Find(&categories); err != nil {
			s.logError(opRevise, "category_load_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opRevise, "category_load_failed", err)
		}

		created = latest
		created.ID = 0
		created.Revision = latest.Revision + 1
		created.AuthorUID = actor.UID
		created.UploadDate = s.clock().UTC()
		created.Latitude = copyFloat(latest.Latitude)
		created.Longitude = copyFloat(latest.Longitude)
		created.Tags = copyTags(latest.Tags)
		created.Categories = categories
		created.Latest = true

		if meta != nil {
			rendered, err := render.Markdown(meta.Description)
			if err != nil {
				s.logError(opRevise, "render_failed", err)
				return persistenceError(opRevise, "render_failed", err)
			}
			categories, err := s.resolveCategories(tx, meta.Categories)
			if err != nil {
				s.logError(opRevise, "category_resolution_failed", err)
				return persistenceError(opRevise, "category_resolution_failed", err)
			}
			applyMetadata(&created, *meta, rendered)
			created.Categories = categories
		}

		// Flip the previous latest in the same transaction; the insert
		// below restores the single-latest invariant.
		if err := tx.Model(&Model{}).
			Where("model_id = ? AND latest = ?", modelID, true).
			Update("latest", false).Error; err != nil {
			s.logError(opRevise, "latest_flip_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opRevise, "latest_flip_failed", err)
		}

		if err := tx.Create(&created).Error; err != nil {
			s.logError(opRevise, "model_insert_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opRevise, "model_insert_failed", err)
		}

		if err := s.appendChange(tx, actor.UID, created.ID, ChangeTypeRevise); err != nil {
			return err
		}

		if _, err := s.files.Write(created.ModelID, created.Revision, content); err != nil {
			s.logError(opRevise, "file_write_failed", err,
				zap.Int("model_id", created.ModelID),
				zap.Int("revision", created.Revision))
			return persistenceError(opRevise, "file_write_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.logger.Info("model revised",
		zap.Int("model_id", created.ModelID),
		zap.Int("revision", created.Revision),
		zap.String("author", actor.UID))
	return &created, nil
}

// Edit mutates the metadata of one identified revision in place. It never
// changes the revision number, the latest pointer or the stored file, and it
// is all-or-nothing: any failure leaves the record untouched.
func (s *Service) Edit(ctx context.Context, actor users.Actor, modelID, revision int, meta Metadata) error {
	if err := meta.validate(opEdit); err != nil {
		return err
	}

	rendered, err := render.Markdown(meta.Description)
	if err != nil {
		s.logError(opEdit, "render_failed", err)
		return persistenceError(opEdit, "render_failed", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record Model
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("model_id = ? AND revision = ?", modelID, revision).
			Take(&record).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return notFoundError(opEdit, "revision_missing")
		}
		if err != nil {
			s.logError(opEdit, "revision_select_failed", err,
				zap.Int("model_id", modelID), zap.Int("revision", revision))
			return persistenceError(opEdit, "revision_select_failed", err)
		}

		if decision := s.authorize(actor, users.ActionEdit, record.AuthorUID); !decision.Allowed {
			return deniedError(opEdit, decision.Reason)
		}

		updates := map[string]interface{}{
			"title":                meta.Title,
			"description":          meta.Description,
			"rendered_description": rendered,
			"source":               meta.Source,
			"license":              meta.License,
			"tags":                 tagsToJSON(meta.Tags),
			"rotation":             meta.Rotation,
			"scale":                meta.Scale,
			"translation_x":        meta.TranslationX,
			"translation_y":        meta.TranslationY,
			"translation_z":        meta.TranslationZ,
			"latitude":             copyFloat(meta.Latitude),
			"longitude":            copyFloat(meta.Longitude),
		}
		if err := tx.Model(&record).Updates(updates).Error; err != nil {
			s.logError(opEdit, "update_failed", err,
				zap.Int("model_id", modelID), zap.Int("revision", revision))
			return persistenceError(opEdit, "update_failed", err)
		}

		categories, err := s.resolveCategories(tx, meta.Categories)
		if err != nil {
			s.logError(opEdit, "category_resolution_failed", err)
			return persistenceError(opEdit, "category_resolution_failed", err)
		}
		if err := tx.Model(&record).Association("Categories").Replace(&categories); err != nil {
			s.logError(opEdit, "category_replace_failed", err)
			return persistenceError(opEdit, "category_replace_failed", err)
		}
		return nil
	})
}

// Delete removes every revision of a model together with its comments,
// change-log entries, category links and stored files, in one transaction.
func (s *Service) Delete(ctx context.Context, actor users.Actor, modelID int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []Model
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("model_id = ?", modelID).
			Order("revision ASC").
			Find(&records).Error
		if err != nil {
			s.logError(opDelete, "revision_select_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opDelete, "revision_select_failed", err)
		}
		if len(records) == 0 {
			return notFoundError(opDelete, "model_missing")
		}

		ownerUID := records[len(records)-1].AuthorUID
		for _, record := range records {
			if record.Latest {
				ownerUID = record.AuthorUID
			}
		}
		if decision := s.authorize(actor, users.ActionDelete, ownerUID); !decision.Allowed {
			return deniedError(opDelete, decision.Reason)
		}

		recordIDs := make([]uint, 0, len(records))
		for _, record := range records {
			recordIDs = append(recordIDs, record.ID)
		}

		if err := tx.Where("record_id IN ?", recordIDs).Delete(&Comment{}).Error; err != nil {
			s.logError(opDelete, "comment_delete_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opDelete, "comment_delete_failed", err)
		}
		if err := tx.Where("record_id IN ?", recordIDs).Delete(&Change{}).Error; err != nil {
			s.logError(opDelete, "change_delete_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opDelete, "change_delete_failed", err)
		}
		if err := tx.Exec("DELETE FROM model_categories WHERE record_id IN ?", recordIDs).Error; err != nil {
			s.logError(opDelete, "category_unlink_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opDelete, "category_unlink_failed", err)
		}
		if err := tx.Where("model_id = ?", modelID).Delete(&Model{}).Error; err != nil {
			s.logError(opDelete, "model_delete_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opDelete, "model_delete_failed", err)
		}

		if err := s.files.RemoveModel(modelID); err != nil {
			s.logError(opDelete, "file_remove_failed", err, zap.Int("model_id", modelID))
			return persistenceError(opDelete, "file_remove_failed", err)
		}

		s.logger.Info("model deleted", zap.Int("model_id", modelID), zap.String("actor", actor.UID))
		return nil
	})
}

// Latest returns the single latest revision of a model, with categories
// loaded. Hidden records stay invisible unless the viewer holds admin
// privilege.
func (s *Service) Latest(ctx context.Context, viewer users.Actor, modelID int) (*Model, error) {
	var record Model
	err := s.visible(s.db.WithContext(ctx), viewer).
		Where("model_id = ? AND latest = ?", modelID, true).
		Preload("Categories").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(opLookup, "model_missing")
	}
	if err != nil {
		s.logError(opLookup, "latest_select_failed", err, zap.Int("model_id", modelID))
		return nil, persistenceError(opLookup, "latest_select_failed", err)
	}
	return &record, nil
}

// ByRevision returns one explicit revision of a model.
func (s *Service) ByRevision(ctx context.Context, viewer users.Actor, modelID, revision int) (*Model, error) {
	var record Model
	err := s.visible(s.db.WithContext(ctx), viewer).
		Where("model_id = ? AND revision = ?", modelID, revision).
		Preload("Categories").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError(opLookup, "revision_missing")
	}
	if err != nil {
		s.logError(opLookup, "revision_select_failed", err,
			zap.Int("model_id", modelID), zap.Int("revision", revision))
		return nil, persistenceError(opLookup, "revision_select_failed", err)
	}
	return &record, nil
}

// Detail bundles the latest revision with its visible comments.
type Detail struct {
	Model    Model
	Comments []Comment
}

// DetailFor returns the latest revision of a model plus the comments visible
// to the viewer.
func (s *Service) DetailFor(ctx context.Context, viewer users.Actor, modelID int) (*Detail, error) {
	record, err := s.Latest(ctx, viewer, modelID)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).Where("record_id = ?", record.ID)
	if !s.authorize(viewer, users.ActionViewHidden, "").Allowed {
		query = query.Where("hidden = ?", false)
	}
	var comments []Comment
	if err := query.Order("created_at ASC, id ASC").Find(&comments).Error; err != nil {
		s.logError(opLookup, "comment_load_failed", err, zap.Int("model_id", modelID))
		return nil, persistenceError(opLookup, "comment_load_failed", err)
	}

	return &Detail{Model: *record, Comments: comments}, nil
}

// AddComment attaches a comment to one specific revision.
func (s *Service) AddComment(ctx context.Context, actor users.Actor, modelID, revision int, body string) (*Comment, error) {
	if decision := s.authorize(actor, users.ActionComment, ""); !decision.Allowed {
		return nil, deniedError(opComment, decision.Reason)
	}
	if body == "" {
		return nil, validationError(opComment, "empty_body", "comment body is required")
	}
	if len(body) > 1024 {
		return nil, validationError(opComment, "body_too_long", "comment exceeds 1024 characters")
	}

	record, err := s.ByRevision(ctx, actor, modelID, revision)
	if err != nil {
		return nil, err
	}

	rendered, err := render.Markdown(body)
	if err != nil {
		s.logError(opComment, "render_failed", err)
		return nil, persistenceError(opComment, "render_failed", err)
	}

	comment := Comment{
		RecordID:     record.ID,
		AuthorUID:    actor.UID,
		Body:         body,
		RenderedBody: rendered,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opComment, "insert_failed", err,
			zap.Int("model_id", modelID), zap.Int("revision", revision))
		return nil, persistenceError(opComment, "insert_failed", err)
	}
	return &comment, nil
}

// SetModelHidden flips the moderation flag on one revision. It never touches
// the file content or revision numbering.
func (s *Service) SetModelHidden(ctx context.Context, actor users.Actor, modelID, revision int, hidden bool) error {
	if decision := s.authorize(actor, users.ActionModerate, ""); !decision.Allowed {
		return deniedError(opModerate, decision.Reason)
	}

	result := s.db.WithContext(ctx).Model(&Model{}).
		Where("model_id = ? AND revision = ?", modelID, revision).
		Update("hidden", hidden)
	if result.Error != nil {
		s.logError(opModerate, "model_update_failed", result.Error,
			zap.Int("model_id", modelID), zap.Int("revision", revision))
		return persistenceError(opModerate, "model_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundError(opModerate, "revision_missing")
	}
	return nil
}

// SetCommentHidden flips the moderation flag on one comment.
func (s *Service) SetCommentHidden(ctx context.Context, actor users.Actor, commentID uint, hidden bool) error {
	if decision := s.authorize(actor, users.ActionModerate, ""); !decision.Allowed {
		return deniedError(opModerate, decision.Reason)
	}

	result := s.db.WithContext(ctx).Model(&Comment{}).
		Where("id = ?", commentID).
		Update("hidden", hidden)
	if result.Error != nil {
		s.logError(opModerate, "comment_update_failed", result.Error, zap.Uint("comment_id", commentID))
		return persistenceError(opModerate, "comment_update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return notFoundError(opModerate, "comment_missing")
	}
	return nil
}

func (s *Service) visible(query *gorm.DB, viewer users.Actor) *gorm.DB {
	if s.authorize(viewer, users.ActionViewHidden, "").Allowed {
		return query
	}
	return query.Where("hidden = ?", false)
}

func (s *Service) resolveCategories(tx *gorm.DB, names []string) ([]Category, error) {
	categories := make([]Category, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		var category Category
		if err := tx.Where(Category{Name: name}).FirstOrCreate(&category).Error; err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func (s *Service) appendChange(tx *gorm.DB, authorUID string, recordID uint, changeType ChangeType) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err)
		return persistenceError(opCreate, "id_generation_failed", err)
	}
	change := Change{
		ChangeID:  changeID,
		AuthorUID: authorUID,
		RecordID:  recordID,
		Type:      changeType,
		CreatedAt: s.clock().UTC(),
	}
	if err := tx.Create(&change).Error; err != nil {
		s.logError(opCreate, "change_insert_failed", err)
		return persistenceError(opCreate, "change_insert_failed", err)
	}
	return nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("catalog service error", attrs...)
}

func applyMetadata(record *Model, meta Metadata, rendered string) {
	record.Title = meta.Title
	record.Description = meta.Description
	record.RenderedDescription = rendered
	record.Source = meta.Source
	record.License = meta.License
	record.Tags = tagsToJSON(meta.Tags)
	record.Latitude = copyFloat(meta.Latitude)
	record.Longitude = copyFloat(meta.Longitude)
	record.Rotation = meta.Rotation
	record.Scale = meta.Scale
	record.TranslationX = meta.TranslationX
	record.TranslationY = meta.TranslationY
	record.TranslationZ = meta.TranslationZ
}

func copyFloat(value *float64) *float64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func copyTags(tags map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}
