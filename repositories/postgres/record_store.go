package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500

	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// RecordStore implements repositories.RecordStore over the tables described by models schemas.
// Column names only ever come from the schema; values are always bound as parameters.
type RecordStore struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRecordStore creates a new record store
func NewRecordStore(db *DB, logger *zap.Logger) *RecordStore {
	return &RecordStore{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Exists reports whether a record with id exists. Ids that are not UUIDs never exist.
func (s *RecordStore) Exists(ctx context.Context, kind models.EntityKind, id string) (bool, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return false, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE id = $1)`, schema.Table)

	var exists bool
	if err := GetExecutor(ctx, s.db).QueryRowContext(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", kind, err)
	}
	return exists, nil
}

// Create inserts a record built from fields
func (s *RecordStore) Create(ctx context.Context, kind models.EntityKind, fields map[string]interface{}) (models.Record, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return nil, err
	}

	cols, args, err := writableValues(schema, fields)
	if err != nil {
		return nil, err
	}

	now := s.now()
	id := uuid.New().String()
	names := append([]string{"id"}, cols...)
	names = append(names, "created_at", "updated_at")
	values := append([]interface{}{id}, args...)
	values = append(values, now, now)

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING %s`,
		schema.Table, strings.Join(names, ", "), placeholders(1, len(values)), selectList(schema))

	record, err := scanRecord(schema, GetExecutor(ctx, s.db).QueryRowContext(ctx, query, values...))
	if err != nil {
		return nil, mapError(fmt.Sprintf("failed to create %s", kind), err)
	}

	s.logger.Debug("record created", zap.String("kind", string(kind)), zap.String("id", id))
	return record, nil
}

// Update writes only the given fields. An empty field set still bumps updated_at.
func (s *RecordStore) Update(ctx context.Context, kind models.EntityKind, id string, fields map[string]interface{}) (models.Record, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, repositories.ErrNotFound
	}

	cols, args, err := writableValues(schema, fields)
	if err != nil {
		return nil, err
	}

	sets := []string{"updated_at = $1"}
	values := []interface{}{s.now()}
	for i, col := range cols {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
		values = append(values, args[i])
	}
	values = append(values, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING %s`,
		schema.Table, strings.Join(sets, ", "), len(values), selectList(schema))

	record, err := scanRecord(schema, GetExecutor(ctx, s.db).QueryRowContext(ctx, query, values...))
	if err != nil {
		return nil, mapError(fmt.Sprintf("failed to update %s", kind), err)
	}

	s.logger.Debug("record updated", zap.String("kind", string(kind)), zap.String("id", id), zap.Int("fields", len(cols)))
	return record, nil
}

// Delete removes a record and returns it as it was
func (s *RecordStore) Delete(ctx context.Context, kind models.EntityKind, id string) (models.Record, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, repositories.ErrNotFound
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING %s`, schema.Table, selectList(schema))

	record, err := scanRecord(schema, GetExecutor(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(fmt.Sprintf("failed to delete %s", kind), err)
	}

	s.logger.Debug("record deleted", zap.String("kind", string(kind)), zap.String("id", id))
	return record, nil
}

// Find retrieves one record
func (s *RecordStore) Find(ctx context.Context, kind models.EntityKind, id string) (models.Record, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, repositories.ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectList(schema), schema.Table)

	record, err := scanRecord(schema, GetExecutor(ctx, s.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, mapError(fmt.Sprintf("failed to get %s", kind), err)
	}
	return record, nil
}

// List retrieves records newest first
func (s *RecordStore) List(ctx context.Context, kind models.EntityKind, filter repositories.ListFilter) ([]models.Record, error) {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return nil, err
	}

	var (
		conds  []string
		values []interface{}
	)
	for _, field := range sortedKeys(filter.Equals) {
		col, ok := schema.Column(field)
		if !ok || col.Hidden {
			return nil, fmt.Errorf("cannot filter %s by %q", kind, field)
		}
		v, err := col.Coerce(filter.Equals[field])
		if err != nil {
			return nil, fmt.Errorf("invalid filter value for %s: %w", field, err)
		}
		values = append(values, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col.Name, len(values)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var where string
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	values = append(values, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		selectList(schema), schema.Table, where, len(values)-1, len(values))

	rows, err := GetExecutor(ctx, s.db).QueryContext(ctx, query, values...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", schema.Table, err)
	}
	defer rows.Close()

	records := []models.Record{}
	for rows.Next() {
		record, err := scanRecord(schema, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", kind, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", kind, err)
	}
	return records, nil
}

// AdjustNumber adds delta to a numeric field
func (s *RecordStore) AdjustNumber(ctx context.Context, kind models.EntityKind, id, field string, delta int64, floorZero bool) error {
	schema, err := models.SchemaFor(kind)
	if err != nil {
		return err
	}
	col, ok := schema.Column(field)
	if !ok || (col.Type != models.ColInt && col.Type != models.ColNumeric) {
		return fmt.Errorf("%s.%s is not a numeric field", kind, field)
	}
	if _, err := uuid.Parse(id); err != nil {
		return repositories.ErrNotFound
	}

	expr := fmt.Sprintf("COALESCE(%s, 0) + $1", col.Name)
	if floorZero {
		expr = fmt.Sprintf("GREATEST(%s, 0)", expr)
	}
	query := fmt.Sprintf(`UPDATE %s SET %s = %s, updated_at = $2 WHERE id = $3`, schema.Table, col.Name, expr)

	result, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, delta, s.now(), id)
	if err != nil {
		return fmt.Errorf("failed to adjust %s.%s: %w", kind, field, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return repositories.ErrNotFound
	}

	s.logger.Debug("record adjusted", zap.String("kind", string(kind)), zap.String("id", id),
		zap.String("field", field), zap.Int64("delta", delta))
	return nil
}

// writableValues returns column names and bound values for the writable fields present in fields, in schema order
func writableValues(schema *models.Schema, fields map[string]interface{}) ([]string, []interface{}, error) {
	var (
		cols []string
		args []interface{}
	)
	for _, col := range schema.Columns {
		if col.ReadOnly || col.Hidden {
			continue
		}
		raw, ok := fields[col.Field]
		if !ok {
			continue
		}
		v, err := col.Coerce(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid value for %s: %w", col.Field, err)
		}
		if arr, isArr := v.([]string); isArr {
			v = pq.Array(arr)
		}
		cols = append(cols, col.Name)
		args = append(args, v)
	}
	return cols, args, nil
}

func selectList(schema *models.Schema) string {
	visible := schema.Visible()
	names := make([]string, len(visible))
	for i, c := range visible {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}

func placeholders(from, n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(p, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads the visible columns of one row into a record keyed by API field
func scanRecord(schema *models.Schema, row rowScanner) (models.Record, error) {
	visible := schema.Visible()
	dest := make([]interface{}, len(visible))
	for i, c := range visible {
		switch c.Type {
		case models.ColInt:
			dest[i] = &sql.NullInt64{}
		case models.ColNumeric:
			dest[i] = &sql.NullFloat64{}
		case models.ColBool:
			dest[i] = &sql.NullBool{}
		case models.ColDate, models.ColTimestamp:
			dest[i] = &sql.NullTime{}
		case models.ColTextArray:
			dest[i] = &pq.StringArray{}
		default:
			dest[i] = &sql.NullString{}
		}
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	record := make(models.Record, len(visible))
	for i, c := range visible {
		record[c.Field] = scannedValue(c, dest[i])
	}
	return record, nil
}

func scannedValue(c models.Column, dest interface{}) interface{} {
	switch v := dest.(type) {
	case *sql.NullString:
		if v.Valid {
			return v.String
		}
	case *sql.NullInt64:
		if v.Valid {
			return v.Int64
		}
	case *sql.NullFloat64:
		if v.Valid {
			return v.Float64
		}
	case *sql.NullBool:
		if v.Valid {
			return v.Bool
		}
	case *sql.NullTime:
		if v.Valid {
			if c.Type == models.ColDate {
				return v.Time.Format("2006-01-02")
			}
			return v.Time.UTC()
		}
	case *pq.StringArray:
		if *v == nil {
			return []string{}
		}
		return []string(*v)
	}
	return nil
}

// mapError translates driver errors into repository sentinels
func mapError(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repositories.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, repositories.ErrConflict, pqErr.Constraint)
		case pqForeignKeyViolation:
			return fmt.Errorf("%s: %w (%s)", op, repositories.ErrNotFound, pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
