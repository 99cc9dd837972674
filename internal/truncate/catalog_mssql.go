// internal/truncate/catalog_mssql.go
package truncate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arwahdevops/dbtruncate/internal/utils"
)

// MSSQLCatalog reads SQL Server catalog views through gorm.
type MSSQLCatalog struct {
	db     *gorm.DB
	logger *zap.Logger
}

var _ Catalog = (*MSSQLCatalog)(nil)

func NewMSSQLCatalog(db *gorm.DB, logger *zap.Logger) *MSSQLCatalog {
	return &MSSQLCatalog{db: db, logger: logger.Named("catalog")}
}

const tableInfoSelect = `
	SELECT t.object_id AS object_id,
	       s.name AS schema_name,
	       t.name AS table_name,
	       CAST(t.temporal_type AS int) AS temporal_type,
	       CAST(OBJECTPROPERTY(t.object_id, 'TableHasForeignRef') AS bit) AS has_foreign_ref,
	       CAST(CASE WHEN EXISTS (
	           SELECT 1 FROM sys.sql_expression_dependencies d
	           JOIN sys.views v ON v.object_id = d.referencing_id
	           WHERE d.referenced_id = t.object_id AND d.is_schema_bound_reference = 1
	       ) THEN 1 ELSE 0 END AS bit) AS is_schema_bound_referenced,
	       t.is_tracked_by_cdc AS is_tracked_by_cdc,
	       t.is_replicated AS is_published
	FROM sys.tables t
	JOIN sys.schemas s ON s.schema_id = t.schema_id
	WHERE t.is_ms_shipped = 0`

type tableInfoRow struct {
	ObjectID                int64  `gorm:"column:object_id"`
	SchemaName              string `gorm:"column:schema_name"`
	TableName               string `gorm:"column:table_name"`
	TemporalType            int    `gorm:"column:temporal_type"`
	HasForeignRef           bool   `gorm:"column:has_foreign_ref"`
	IsSchemaBoundReferenced bool   `gorm:"column:is_schema_bound_referenced"`
	IsTrackedByCDC          bool   `gorm:"column:is_tracked_by_cdc"`
	IsPublished             bool   `gorm:"column:is_published"`
}

func (r tableInfoRow) toInfo() TableInfo {
	return TableInfo{
		ObjectID:                r.ObjectID,
		Schema:                  r.SchemaName,
		Name:                    r.TableName,
		TemporalType:            TemporalType(r.TemporalType),
		HasForeignRef:           r.HasForeignRef,
		IsSchemaBoundReferenced: r.IsSchemaBoundReferenced,
		IsTrackedByCDC:          r.IsTrackedByCDC,
		IsPublished:             r.IsPublished,
	}
}

// idsPerStatement bounds the ids bound into one IN list. SQL Server
// rejects requests with more than 2100 parameters.
const idsPerStatement = 1000

func chunkIDs(ids []int64, size int) [][]int64 {
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

// scanByIDs runs query, which binds ids through a single "IN ?", once per
// chunk of ids and appends the rows of every chunk to dest. Rows of one
// object always come from the same chunk.
func scanByIDs[T any](db *gorm.DB, query string, ids []int64, dest *[]T) error {
	for _, chunk := range chunkIDs(ids, idsPerStatement) {
		var rows []T
		if err := db.Raw(query, chunk).Scan(&rows).Error; err != nil {
			return err
		}
		*dest = append(*dest, rows...)
	}
	return nil
}

func (c *MSSQLCatalog) ListUserTables(ctx context.Context) ([]TableInfo, error) {
	var rows []tableInfoRow
	if err := c.db.WithContext(ctx).Raw(tableInfoSelect + " ORDER BY s.name, t.name;").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("list user tables: %w", err)
	}
	out := make([]TableInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toInfo())
	}
	c.logger.Debug("Listed user tables", zap.Int("count", len(out)))
	return out, nil
}

func (c *MSSQLCatalog) FindTable(ctx context.Context, schema, name string) (*TableInfo, error) {
	var rows []tableInfoRow
	err := c.db.WithContext(ctx).Raw(tableInfoSelect+" AND s.name = ? AND t.name = ?;", schema, name).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("find table %s.%s: %w", schema, name, err)
	}
	switch len(rows) {
	case 0:
		return nil, nil
	case 1:
		info := rows[0].toInfo()
		return &info, nil
	default:
		// Only possible under a case-sensitive collation with a
		// case-insensitive caller; treat as ambiguous.
		return nil, fmt.Errorf("find table %s.%s: %d tables match", schema, name, len(rows))
	}
}

func (c *MSSQLCatalog) RowCounts(ctx context.Context, objectIDs []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(objectIDs))
	if len(objectIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ObjectID int64 `gorm:"column:object_id"`
		RowCount int64 `gorm:"column:row_count"`
	}
	query := `
		SELECT ps.object_id AS object_id, SUM(ps.row_count) AS row_count
		FROM sys.dm_db_partition_stats ps
		WHERE ps.index_id IN (0, 1) AND ps.object_id IN ?
		GROUP BY ps.object_id;`
	if err := scanByIDs(c.db.WithContext(ctx), query, objectIDs, &rows); err != nil {
		return nil, fmt.Errorf("row counts: %w", err)
	}
	for _, id := range objectIDs {
		out[id] = 0
	}
	for _, r := range rows {
		out[r.ObjectID] = r.RowCount
	}
	return out, nil
}

func (c *MSSQLCatalog) ForeignKeys(ctx context.Context, referencedIDs []int64) ([]*ForeignKey, error) {
	if len(referencedIDs) == 0 {
		return nil, nil
	}
	var fkRows []struct {
		ObjectID           int64  `gorm:"column:object_id"`
		Name               string `gorm:"column:name"`
		ParentObjectID     int64  `gorm:"column:parent_object_id"`
		ParentSchema       string `gorm:"column:parent_schema"`
		ParentTable        string `gorm:"column:parent_table"`
		ReferencedObjectID int64  `gorm:"column:referenced_object_id"`
		ReferencedSchema   string `gorm:"column:referenced_schema"`
		ReferencedTable    string `gorm:"column:referenced_table"`
		DeleteAction       string `gorm:"column:delete_action"`
		UpdateAction       string `gorm:"column:update_action"`
		NotForReplication  bool   `gorm:"column:is_not_for_replication"`
		IsDisabled         bool   `gorm:"column:is_disabled"`
		IsNotTrusted       bool   `gorm:"column:is_not_trusted"`
	}
	query := `
		SELECT fk.object_id, fk.name, fk.parent_object_id,
		       ps.name AS parent_schema, pt.name AS parent_table,
		       fk.referenced_object_id,
		       rs.name AS referenced_schema, rt.name AS referenced_table,
		       fk.delete_referential_action_desc AS delete_action,
		       fk.update_referential_action_desc AS update_action,
		       fk.is_not_for_replication, fk.is_disabled, fk.is_not_trusted
		FROM sys.foreign_keys fk
		JOIN sys.tables pt ON pt.object_id = fk.parent_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.tables rt ON rt.object_id = fk.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		WHERE fk.referenced_object_id IN ?
		ORDER BY rs.name, rt.name, ps.name, pt.name, fk.name;`
	if err := scanByIDs(c.db.WithContext(ctx), query, referencedIDs, &fkRows); err != nil {
		return nil, fmt.Errorf("foreign keys: %w", err)
	}
	if len(fkRows) == 0 {
		return nil, nil
	}

	var colRows []struct {
		ConstraintObjectID      int64  `gorm:"column:constraint_object_id"`
		ConstraintColumnID      int    `gorm:"column:constraint_column_id"`
		ParentColumn            string `gorm:"column:parent_column"`
		ReferencedColumn        string `gorm:"column:referenced_column"`
		ReferencedColumnOrdinal int    `gorm:"column:referenced_column_ordinal"`
	}
	colQuery := `
		SELECT fkc.constraint_object_id, fkc.constraint_column_id,
		       pc.name AS parent_column, rc.name AS referenced_column,
		       rc.column_id AS referenced_column_ordinal
		FROM sys.foreign_key_columns fkc
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
		WHERE fkc.referenced_object_id IN ?;`
	if err := scanByIDs(c.db.WithContext(ctx), colQuery, referencedIDs, &colRows); err != nil {
		return nil, fmt.Errorf("foreign key columns: %w", err)
	}

	byID := make(map[int64]*ForeignKey, len(fkRows))
	out := make([]*ForeignKey, 0, len(fkRows))
	for _, r := range fkRows {
		fk := &ForeignKey{
			ObjectID:           r.ObjectID,
			ConstraintName:     r.Name,
			ParentObjectID:     r.ParentObjectID,
			ParentSchema:       r.ParentSchema,
			ParentTable:        r.ParentTable,
			ReferencedObjectID: r.ReferencedObjectID,
			ReferencedSchema:   r.ReferencedSchema,
			ReferencedTable:    r.ReferencedTable,
			DeleteAction:       r.DeleteAction,
			UpdateAction:       r.UpdateAction,
			NotForReplication:  r.NotForReplication,
			IsDisabled:         r.IsDisabled,
			IsNotTrusted:       r.IsNotTrusted,
		}
		byID[fk.ObjectID] = fk
		out = append(out, fk)
	}
	for _, cr := range colRows {
		if fk, ok := byID[cr.ConstraintObjectID]; ok {
			fk.Columns = append(fk.Columns, FKColumn{
				ConstraintColumnID:      cr.ConstraintColumnID,
				ParentColumn:            cr.ParentColumn,
				ReferencedColumn:        cr.ReferencedColumn,
				ReferencedColumnOrdinal: cr.ReferencedColumnOrdinal,
			})
		}
	}
	if len(referencedIDs) > idsPerStatement {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].ReferencedSchema+"."+out[i].ReferencedTable != out[j].ReferencedSchema+"."+out[j].ReferencedTable {
				return out[i].ReferencedSchema+"."+out[i].ReferencedTable < out[j].ReferencedSchema+"."+out[j].ReferencedTable
			}
			return out[i].Name() < out[j].Name()
		})
	}
	return out, nil
}

func (c *MSSQLCatalog) SchemaBoundReferences(ctx context.Context, referencedIDs []int64) ([]ViewReference, error) {
	if len(referencedIDs) == 0 {
		return nil, nil
	}
	var rows []struct {
		ViewID       int64 `gorm:"column:view_id"`
		ReferencedID int64 `gorm:"column:referenced_id"`
	}
	query := `
		SELECT DISTINCT d.referencing_id AS view_id, d.referenced_id AS referenced_id
		FROM sys.sql_expression_dependencies d
		JOIN sys.views v ON v.object_id = d.referencing_id
		WHERE d.is_schema_bound_reference = 1 AND d.referenced_id IN ?;`
	if err := scanByIDs(c.db.WithContext(ctx), query, referencedIDs, &rows); err != nil {
		return nil, fmt.Errorf("schema-bound references: %w", err)
	}
	out := make([]ViewReference, 0, len(rows))
	for _, r := range rows {
		out = append(out, ViewReference{ViewID: r.ViewID, ReferencedID: r.ReferencedID})
	}
	return out, nil
}

func (c *MSSQLCatalog) Views(ctx context.Context, viewIDs []int64) ([]*SchemaBoundView, error) {
	if len(viewIDs) == 0 {
		return nil, nil
	}
	db := c.db.WithContext(ctx)

	var viewRows []struct {
		ObjectID             int64          `gorm:"column:object_id"`
		SchemaName           string         `gorm:"column:schema_name"`
		ViewName             string         `gorm:"column:view_name"`
		Definition           sql.NullString `gorm:"column:definition"`
		IsEncrypted          bool           `gorm:"column:is_encrypted"`
		UsesAnsiNulls        bool           `gorm:"column:uses_ansi_nulls"`
		UsesQuotedIdentifier bool           `gorm:"column:uses_quoted_identifier"`
	}
	viewQuery := `
		SELECT v.object_id, s.name AS schema_name, v.name AS view_name,
		       m.definition,
		       CAST(ISNULL(OBJECTPROPERTY(v.object_id, 'IsEncrypted'), 0) AS bit) AS is_encrypted,
		       CAST(ISNULL(m.uses_ansi_nulls, 1) AS bit) AS uses_ansi_nulls,
		       CAST(ISNULL(m.uses_quoted_identifier, 1) AS bit) AS uses_quoted_identifier
		FROM sys.views v
		JOIN sys.schemas s ON s.schema_id = v.schema_id
		LEFT JOIN sys.sql_modules m ON m.object_id = v.object_id
		WHERE v.object_id IN ?
		ORDER BY s.name, v.name;`
	if err := scanByIDs(db, viewQuery, viewIDs, &viewRows); err != nil {
		return nil, fmt.Errorf("views: %w", err)
	}

	byID := make(map[int64]*SchemaBoundView, len(viewRows))
	out := make([]*SchemaBoundView, 0, len(viewRows))
	for _, r := range viewRows {
		v := &SchemaBoundView{
			ObjectID:             r.ObjectID,
			Schema:               r.SchemaName,
			ViewName:             r.ViewName,
			Definition:           r.Definition.String,
			IsEncrypted:          r.IsEncrypted || !r.Definition.Valid,
			UsesAnsiNulls:        r.UsesAnsiNulls,
			UsesQuotedIdentifier: r.UsesQuotedIdentifier,
		}
		byID[v.ObjectID] = v
		out = append(out, v)
	}

	if err := c.loadViewIndexes(db, viewIDs, byID); err != nil {
		return nil, err
	}
	if err := c.loadViewTriggers(db, viewIDs, byID); err != nil {
		return nil, err
	}
	if err := c.loadViewExtendedProperties(db, viewIDs, byID); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MSSQLCatalog) loadViewIndexes(db *gorm.DB, viewIDs []int64, byID map[int64]*SchemaBoundView) error {
	var rows []struct {
		ObjectID         int64          `gorm:"column:object_id"`
		IndexID          int            `gorm:"column:index_id"`
		IndexName        string         `gorm:"column:index_name"`
		IsClustered      bool           `gorm:"column:is_clustered"`
		IsUnique         bool           `gorm:"column:is_unique"`
		FilterDefinition sql.NullString `gorm:"column:filter_definition"`
		IsIncluded       bool           `gorm:"column:is_included_column"`
		IsDescending     bool           `gorm:"column:is_descending_key"`
		ColumnName       string         `gorm:"column:column_name"`
	}
	query := `
		SELECT i.object_id, i.index_id, i.name AS index_name,
		       CAST(CASE WHEN i.type = 1 THEN 1 ELSE 0 END AS bit) AS is_clustered,
		       i.is_unique, i.filter_definition,
		       ic.is_included_column, ic.is_descending_key, c.name AS column_name
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		WHERE i.object_id IN ? AND i.index_id > 0
		ORDER BY i.object_id, i.index_id, ic.is_included_column, ic.key_ordinal, ic.index_column_id;`
	if err := scanByIDs(db, query, viewIDs, &rows); err != nil {
		return fmt.Errorf("view indexes: %w", err)
	}

	type key struct {
		view  int64
		index int
	}
	positions := make(map[key]int)
	for _, r := range rows {
		v, ok := byID[r.ObjectID]
		if !ok {
			continue
		}
		k := key{r.ObjectID, r.IndexID}
		pos, seen := positions[k]
		if !seen {
			v.Indexes = append(v.Indexes, ViewIndex{
				IndexID:          r.IndexID,
				IndexName:        r.IndexName,
				IsClustered:      r.IsClustered,
				IsUnique:         r.IsUnique,
				FilterDefinition: r.FilterDefinition.String,
			})
			pos = len(v.Indexes) - 1
			positions[k] = pos
		}
		ix := &v.Indexes[pos]
		if r.IsIncluded {
			ix.IncludedColumns = append(ix.IncludedColumns, r.ColumnName)
		} else {
			ix.KeyColumns = append(ix.KeyColumns, IndexColumn{Column: r.ColumnName, Descending: r.IsDescending})
		}
	}
	return nil
}

func (c *MSSQLCatalog) loadViewTriggers(db *gorm.DB, viewIDs []int64, byID map[int64]*SchemaBoundView) error {
	var rows []struct {
		ParentID    int64          `gorm:"column:parent_id"`
		ObjectID    int64          `gorm:"column:object_id"`
		TriggerName string         `gorm:"column:trigger_name"`
		Definition  sql.NullString `gorm:"column:definition"`
		IsEncrypted bool           `gorm:"column:is_encrypted"`
		IsDisabled  bool           `gorm:"column:is_disabled"`
	}
	query := `
		SELECT tr.parent_id, tr.object_id, tr.name AS trigger_name, m.definition,
		       CAST(ISNULL(OBJECTPROPERTY(tr.object_id, 'IsEncrypted'), 0) AS bit) AS is_encrypted,
		       tr.is_disabled
		FROM sys.triggers tr
		LEFT JOIN sys.sql_modules m ON m.object_id = tr.object_id
		WHERE tr.parent_id IN ?
		ORDER BY tr.parent_id, tr.name;`
	if err := scanByIDs(db, query, viewIDs, &rows); err != nil {
		return fmt.Errorf("view triggers: %w", err)
	}
	for _, r := range rows {
		if v, ok := byID[r.ParentID]; ok {
			v.Triggers = append(v.Triggers, ViewTrigger{
				ObjectID:    r.ObjectID,
				TriggerName: r.TriggerName,
				Definition:  r.Definition.String,
				IsEncrypted: r.IsEncrypted || !r.Definition.Valid,
				IsDisabled:  r.IsDisabled,
			})
		}
	}
	return nil
}

func (c *MSSQLCatalog) loadViewExtendedProperties(db *gorm.DB, viewIDs []int64, byID map[int64]*SchemaBoundView) error {
	var rows []struct {
		MajorID    int64          `gorm:"column:major_id"`
		Name       string         `gorm:"column:name"`
		Value      sql.NullString `gorm:"column:value"`
		ColumnName sql.NullString `gorm:"column:column_name"`
	}
	query := `
		SELECT ep.major_id, ep.name, CONVERT(nvarchar(4000), ep.value) AS value, c.name AS column_name
		FROM sys.extended_properties ep
		LEFT JOIN sys.columns c ON c.object_id = ep.major_id AND c.column_id = ep.minor_id AND ep.minor_id > 0
		WHERE ep.class = 1 AND ep.major_id IN ?
		ORDER BY ep.major_id, ep.minor_id, ep.name;`
	if err := scanByIDs(db, query, viewIDs, &rows); err != nil {
		return fmt.Errorf("view extended properties: %w", err)
	}
	for _, r := range rows {
		if v, ok := byID[r.MajorID]; ok {
			v.ExtendedProperties = append(v.ExtendedProperties, ExtendedProperty{
				PropertyName: r.Name,
				Value:        r.Value.String,
				Column:       r.ColumnName.String,
			})
		}
	}
	return nil
}

func (c *MSSQLCatalog) isCDCEnabled(db *gorm.DB) (bool, error) {
	var enabled bool
	err := db.Raw("SELECT CAST(is_cdc_enabled AS bit) FROM sys.databases WHERE database_id = DB_ID();").Scan(&enabled).Error
	return enabled, err
}

func (c *MSSQLCatalog) CDCInstances(ctx context.Context, sourceIDs []int64) ([]*CDCInstance, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	db := c.db.WithContext(ctx)
	enabled, err := c.isCDCEnabled(db)
	if err != nil {
		return nil, fmt.Errorf("check cdc enabled: %w", err)
	}
	if !enabled {
		c.logger.Debug("CDC is not enabled for this database, skipping capture instance lookup")
		return nil, nil
	}

	var rows []struct {
		SourceObjectID       int64          `gorm:"column:source_object_id"`
		SourceSchema         string         `gorm:"column:source_schema"`
		SourceTable          string         `gorm:"column:source_table"`
		CaptureInstance      string         `gorm:"column:capture_instance"`
		RoleName             sql.NullString `gorm:"column:role_name"`
		SupportsNetChanges   bool           `gorm:"column:supports_net_changes"`
		IndexName            sql.NullString `gorm:"column:index_name"`
		FilegroupName        sql.NullString `gorm:"column:filegroup_name"`
		AllowPartitionSwitch bool           `gorm:"column:partition_switch"`
	}
	query := `
		SELECT ct.source_object_id, s.name AS source_schema, t.name AS source_table,
		       ct.capture_instance, ct.role_name, ct.supports_net_changes,
		       ct.index_name, ct.filegroup_name, ct.partition_switch
		FROM cdc.change_tables ct
		JOIN sys.tables t ON t.object_id = ct.source_object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE ct.source_object_id IN ?
		ORDER BY s.name, t.name, ct.capture_instance;`
	if err := scanByIDs(db, query, sourceIDs, &rows); err != nil {
		return nil, fmt.Errorf("cdc capture instances: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var colRows []struct {
		CaptureInstance string `gorm:"column:capture_instance"`
		ColumnName      string `gorm:"column:column_name"`
	}
	colQuery := `
		SELECT ct.capture_instance, cc.column_name
		FROM cdc.captured_columns cc
		JOIN cdc.change_tables ct ON ct.object_id = cc.object_id
		WHERE ct.source_object_id IN ?
		ORDER BY ct.capture_instance, cc.column_ordinal;`
	if err := scanByIDs(db, colQuery, sourceIDs, &colRows); err != nil {
		return nil, fmt.Errorf("cdc captured columns: %w", err)
	}

	byName := make(map[string]*CDCInstance, len(rows))
	out := make([]*CDCInstance, 0, len(rows))
	for _, r := range rows {
		ci := &CDCInstance{
			SourceObjectID:       r.SourceObjectID,
			SourceSchema:         r.SourceSchema,
			SourceTable:          r.SourceTable,
			CaptureInstance:      r.CaptureInstance,
			RoleName:             r.RoleName.String,
			SupportsNetChanges:   r.SupportsNetChanges,
			IndexName:            r.IndexName.String,
			FilegroupName:        r.FilegroupName.String,
			AllowPartitionSwitch: r.AllowPartitionSwitch,
		}
		byName[ci.CaptureInstance] = ci
		out = append(out, ci)
	}
	for _, cr := range colRows {
		if ci, ok := byName[cr.CaptureInstance]; ok {
			ci.CapturedColumns = append(ci.CapturedColumns, cr.ColumnName)
		}
	}
	if len(sourceIDs) > idsPerStatement {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	}
	return out, nil
}

func (c *MSSQLCatalog) isPublisherDB(db *gorm.DB) (bool, error) {
	var present int
	err := db.Raw("SELECT CASE WHEN OBJECT_ID(N'dbo.sysarticles') IS NULL THEN 0 ELSE 1 END;").Scan(&present).Error
	return present == 1, err
}

var articleTypes = map[int]string{
	1: "logbased",
	3: "logbased manualfilter",
	5: "logbased manualview",
	7: "logbased manualboth",
}

var preCreationCmds = map[int]string{
	0: "none",
	1: "drop",
	2: "delete",
	3: "truncate",
}

func (c *MSSQLCatalog) PublicationArticles(ctx context.Context, sourceIDs []int64) ([]*PublicationArticle, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}
	db := c.db.WithContext(ctx)
	published, err := c.isPublisherDB(db)
	if err != nil {
		return nil, fmt.Errorf("check publisher database: %w", err)
	}
	if !published {
		c.logger.Debug("Database has no replication metadata, skipping article lookup")
		return nil, nil
	}

	var rows []struct {
		ArtID            int64          `gorm:"column:artid"`
		ObjID            int64          `gorm:"column:objid"`
		SourceOwner      string         `gorm:"column:source_owner"`
		SourceObject     string         `gorm:"column:source_object"`
		Publication      string         `gorm:"column:publication"`
		Article          string         `gorm:"column:article"`
		Type             int            `gorm:"column:type"`
		Description      sql.NullString `gorm:"column:description"`
		DestOwner        sql.NullString `gorm:"column:dest_owner"`
		DestTable        sql.NullString `gorm:"column:dest_table"`
		PreCreationCmd   int            `gorm:"column:pre_creation_cmd"`
		SchemaOption     []byte         `gorm:"column:schema_option"`
		Status           int            `gorm:"column:status"`
		InsCmd           sql.NullString `gorm:"column:ins_cmd"`
		UpdCmd           sql.NullString `gorm:"column:upd_cmd"`
		DelCmd           sql.NullString `gorm:"column:del_cmd"`
		FilterClause     sql.NullString `gorm:"column:filter_clause"`
		FilterName       sql.NullString `gorm:"column:filter_name"`
		IdentityRangeMgt string         `gorm:"column:identity_range_management"`
		ArticleColumns   int            `gorm:"column:article_columns"`
		TableColumns     int            `gorm:"column:table_columns"`
	}
	query := `
		SELECT a.artid, a.objid,
		       SCHEMA_NAME(o.schema_id) AS source_owner, o.name AS source_object,
		       p.name AS publication, a.name AS article,
		       CAST(a.type AS int) AS type, a.description, a.dest_owner, a.dest_table,
		       CAST(a.pre_creation_cmd AS int) AS pre_creation_cmd, a.schema_option,
		       CAST(a.status AS int) AS status,
		       a.ins_cmd, a.upd_cmd, a.del_cmd,
		       CONVERT(nvarchar(max), a.filter_clause) AS filter_clause,
		       OBJECT_NAME(NULLIF(a.filter, 0)) AS filter_name,
		       CASE WHEN EXISTS (SELECT 1 FROM dbo.MSpub_identity_range r WHERE r.objid = a.objid) THEN N'auto'
		            WHEN OBJECTPROPERTY(a.objid, 'TableHasIdentity') = 1 THEN N'manual'
		            ELSE N'none' END AS identity_range_management,
		       (SELECT COUNT(*) FROM dbo.sysarticlecolumns ac WHERE ac.artid = a.artid) AS article_columns,
		       (SELECT COUNT(*) FROM sys.columns c WHERE c.object_id = a.objid) AS table_columns
		FROM dbo.sysarticles a
		JOIN dbo.syspublications p ON p.pubid = a.pubid
		JOIN sys.objects o ON o.object_id = a.objid
		WHERE a.objid IN ?
		ORDER BY p.name, a.name;`
	if err := scanByIDs(db, query, sourceIDs, &rows); err != nil {
		return nil, fmt.Errorf("publication articles: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var colRows []struct {
		ArtID      int64  `gorm:"column:artid"`
		ColumnName string `gorm:"column:column_name"`
	}
	colQuery := `
		SELECT ac.artid, c.name AS column_name
		FROM dbo.sysarticlecolumns ac
		JOIN dbo.sysarticles a ON a.artid = ac.artid
		JOIN sys.columns c ON c.object_id = a.objid AND c.column_id = ac.colid
		WHERE a.objid IN ?
		ORDER BY ac.artid, c.column_id;`
	if err := scanByIDs(db, colQuery, sourceIDs, &colRows); err != nil {
		return nil, fmt.Errorf("article columns: %w", err)
	}

	var subRows []struct {
		ArtID            int64  `gorm:"column:artid"`
		Subscriber       string `gorm:"column:subscriber"`
		DestDB           string `gorm:"column:dest_db"`
		SubscriptionType int    `gorm:"column:subscription_type"`
		SyncType         int    `gorm:"column:sync_type"`
	}
	subQuery := `
		SELECT s.artid, s.srvname AS subscriber, s.dest_db,
		       CAST(s.subscription_type AS int) AS subscription_type,
		       CAST(s.sync_type AS int) AS sync_type
		FROM dbo.syssubscriptions s
		JOIN dbo.sysarticles a ON a.artid = s.artid
		WHERE a.objid IN ? AND s.srvid >= 0
		ORDER BY s.artid, s.srvname, s.dest_db;`
	if err := scanByIDs(db, subQuery, sourceIDs, &subRows); err != nil {
		return nil, fmt.Errorf("article subscriptions: %w", err)
	}

	byArt := make(map[int64]*PublicationArticle, len(rows))
	out := make([]*PublicationArticle, 0, len(rows))
	for _, r := range rows {
		typ, ok := articleTypes[r.Type]
		if !ok {
			typ = "logbased"
			c.logger.Warn("Unrecognized article type, recreating as logbased",
				zap.String("article", r.Article), zap.Int("type", r.Type))
		}
		a := &PublicationArticle{
			SourceObjectID:          r.ObjID,
			SourceOwner:             r.SourceOwner,
			SourceObject:            r.SourceObject,
			Publication:             r.Publication,
			Article:                 r.Article,
			Type:                    typ,
			Description:             r.Description.String,
			DestinationOwner:        r.DestOwner.String,
			DestinationTable:        r.DestTable.String,
			PreCreationCmd:          preCreationCmds[r.PreCreationCmd],
			SchemaOption:            r.SchemaOption,
			IdentityRangeManagement: r.IdentityRangeMgt,
			Status:                  r.Status,
			InsCmd:                  r.InsCmd.String,
			UpdCmd:                  r.UpdCmd.String,
			DelCmd:                  r.DelCmd.String,
			FilterClause:            r.FilterClause.String,
			FilterName:              r.FilterName.String,
			VerticalPartition:       r.ArticleColumns > 0 && r.ArticleColumns < r.TableColumns,
		}
		byArt[r.ArtID] = a
		out = append(out, a)
	}
	for _, cr := range colRows {
		if a, ok := byArt[cr.ArtID]; ok {
			a.Columns = append(a.Columns, cr.ColumnName)
		}
	}
	for _, sr := range subRows {
		a, ok := byArt[sr.ArtID]
		if !ok {
			continue
		}
		sub := ArticleSubscription{
			Subscriber:       sr.Subscriber,
			DestinationDB:    sr.DestDB,
			SubscriptionType: "push",
			SyncType:         "automatic",
		}
		if sr.SubscriptionType == 1 {
			sub.SubscriptionType = "pull"
		}
		switch sr.SyncType {
		case 2:
			sub.SyncType = "none"
		case 3:
			sub.SyncType = "replication support only"
		}
		if !containsSubscription(a.Subscriptions, sub) {
			a.Subscriptions = append(a.Subscriptions, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func containsSubscription(subs []ArticleSubscription, s ArticleSubscription) bool {
	for _, x := range subs {
		if x.Subscriber == s.Subscriber && x.DestinationDB == s.DestinationDB {
			return true
		}
	}
	return false
}

// tableRowCount is shared by the gorm session.
func tableRowCount(ctx context.Context, db *gorm.DB, schema, name string) (int64, bool, error) {
	var exists int
	err := db.WithContext(ctx).Raw(
		"SELECT CASE WHEN OBJECT_ID(QUOTENAME(?) + N'.' + QUOTENAME(?), N'U') IS NULL THEN 0 ELSE 1 END;",
		schema, name).Scan(&exists).Error
	if err != nil {
		return 0, false, fmt.Errorf("check table %s.%s exists: %w", schema, name, err)
	}
	if exists == 0 {
		return 0, false, nil
	}
	var count int64
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s;", utils.QualifiedName(schema, name))
	if err := db.WithContext(ctx).Raw(query).Scan(&count).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, true, nil
		}
		return 0, true, fmt.Errorf("count rows in %s.%s: %w", schema, name, err)
	}
	return count, true, nil
}
