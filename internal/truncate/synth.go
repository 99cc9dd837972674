package truncate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arwahdevops/dbtruncate/internal/utils"
)

// Statement synthesis for every dependency kind. These functions are pure:
// the same record always yields the same statements.

func truncateCommand(t *TargetTable) Command {
	return Command{
		Action:     ActionTruncate,
		Object:     t.QualifiedName(),
		Statements: []string{fmt.Sprintf("TRUNCATE TABLE %s;", t.QualifiedName())},
	}
}

// --- foreign keys ---

func foreignKeyTeardown(fk *ForeignKey) Command {
	return Command{
		Kind:   KindForeignKey,
		Action: ActionTeardown,
		Object: fk.Name(),
		Statements: []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s;",
			utils.QualifiedName(fk.ParentSchema, fk.ParentTable), utils.QuoteName(fk.ConstraintName))},
	}
}

// orderedFKColumns sorts column pairs by the referenced column's ordinal in
// the referenced table, then by position in the constraint.
func orderedFKColumns(cols []FKColumn) []FKColumn {
	out := append([]FKColumn(nil), cols...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ReferencedColumnOrdinal != out[j].ReferencedColumnOrdinal {
			return out[i].ReferencedColumnOrdinal < out[j].ReferencedColumnOrdinal
		}
		return out[i].ConstraintColumnID < out[j].ConstraintColumnID
	})
	return out
}

func referentialAction(desc string) string {
	if desc == "" {
		return "NO ACTION"
	}
	return strings.ReplaceAll(strings.ToUpper(desc), "_", " ")
}

func foreignKeyReconstruct(fk *ForeignKey) Command {
	cols := orderedFKColumns(fk.Columns)
	parentCols := make([]string, len(cols))
	refCols := make([]string, len(cols))
	for i, c := range cols {
		parentCols[i] = utils.QuoteName(c.ParentColumn)
		refCols[i] = utils.QuoteName(c.ReferencedColumn)
	}

	check := "WITH CHECK"
	if fk.IsNotTrusted || fk.IsDisabled {
		check = "WITH NOCHECK"
	}

	parent := utils.QualifiedName(fk.ParentSchema, fk.ParentTable)
	var sb strings.Builder
	fmt.Fprintf(&sb, "ALTER TABLE %s %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s ON UPDATE %s",
		parent, check, utils.QuoteName(fk.ConstraintName),
		strings.Join(parentCols, ", "),
		utils.QualifiedName(fk.ReferencedSchema, fk.ReferencedTable),
		strings.Join(refCols, ", "),
		referentialAction(fk.DeleteAction), referentialAction(fk.UpdateAction))
	if fk.NotForReplication {
		sb.WriteString(" NOT FOR REPLICATION")
	}
	sb.WriteString(";")

	stmts := []string{sb.String()}
	if fk.IsDisabled {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s NOCHECK CONSTRAINT %s;", parent, utils.QuoteName(fk.ConstraintName)))
	}
	return Command{Kind: KindForeignKey, Action: ActionReconstruct, Object: fk.Name(), Statements: stmts}
}

// --- schema-bound views ---

func splitIndexes(idx []ViewIndex) (clustered, nonclustered []ViewIndex) {
	for _, ix := range idx {
		if ix.IsClustered {
			clustered = append(clustered, ix)
		} else {
			nonclustered = append(nonclustered, ix)
		}
	}
	return clustered, nonclustered
}

func viewTeardown(v *SchemaBoundView) Command {
	name := v.Name()
	var stmts []string
	for _, tr := range v.Triggers {
		stmts = append(stmts, fmt.Sprintf("DROP TRIGGER %s;", utils.QualifiedName(v.Schema, tr.TriggerName)))
	}
	clustered, nonclustered := splitIndexes(v.Indexes)
	for _, ix := range nonclustered {
		stmts = append(stmts, fmt.Sprintf("DROP INDEX %s ON %s;", utils.QuoteName(ix.IndexName), name))
	}
	for _, ix := range clustered {
		stmts = append(stmts, fmt.Sprintf("DROP INDEX %s ON %s;", utils.QuoteName(ix.IndexName), name))
	}
	stmts = append(stmts, fmt.Sprintf("DROP VIEW %s;", name))
	return Command{Kind: KindSchemaBoundView, Action: ActionTeardown, Object: name, Statements: stmts}
}

func createIndexStatement(view string, ix ViewIndex) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if ix.IsUnique {
		sb.WriteString("UNIQUE ")
	}
	if ix.IsClustered {
		sb.WriteString("CLUSTERED ")
	} else {
		sb.WriteString("NONCLUSTERED ")
	}
	keys := make([]string, len(ix.KeyColumns))
	for i, c := range ix.KeyColumns {
		dir := "ASC"
		if c.Descending {
			dir = "DESC"
		}
		keys[i] = utils.QuoteName(c.Column) + " " + dir
	}
	fmt.Fprintf(&sb, "INDEX %s ON %s (%s)", utils.QuoteName(ix.IndexName), view, strings.Join(keys, ", "))
	if len(ix.IncludedColumns) > 0 {
		inc := make([]string, len(ix.IncludedColumns))
		for i, c := range ix.IncludedColumns {
			inc[i] = utils.QuoteName(c)
		}
		fmt.Fprintf(&sb, " INCLUDE (%s)", strings.Join(inc, ", "))
	}
	if ix.FilterDefinition != "" {
		fmt.Fprintf(&sb, " WHERE %s", ix.FilterDefinition)
	}
	sb.WriteString(";")
	return sb.String()
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

// viewReconstruct recreates the view, its clustered index before any
// nonclustered ones, then triggers and extended properties. Encrypted
// triggers are left out; they are reported through Warnings.
func viewReconstruct(v *SchemaBoundView) Command {
	name := v.Name()
	stmts := []string{
		fmt.Sprintf("SET ANSI_NULLS %s;", onOff(v.UsesAnsiNulls)),
		fmt.Sprintf("SET QUOTED_IDENTIFIER %s;", onOff(v.UsesQuotedIdentifier)),
		strings.TrimSpace(v.Definition),
	}
	if !v.UsesAnsiNulls || !v.UsesQuotedIdentifier {
		stmts = append(stmts, "SET ANSI_NULLS ON;", "SET QUOTED_IDENTIFIER ON;")
	}

	clustered, nonclustered := splitIndexes(v.Indexes)
	for _, ix := range clustered {
		stmts = append(stmts, createIndexStatement(name, ix))
	}
	for _, ix := range nonclustered {
		stmts = append(stmts, createIndexStatement(name, ix))
	}

	for _, tr := range v.Triggers {
		if tr.IsEncrypted || tr.Definition == "" {
			continue
		}
		stmts = append(stmts, strings.TrimSpace(tr.Definition))
		if tr.IsDisabled {
			stmts = append(stmts, fmt.Sprintf("DISABLE TRIGGER %s ON %s;", utils.QualifiedName(v.Schema, tr.TriggerName), name))
		}
	}

	for _, ep := range v.ExtendedProperties {
		stmts = append(stmts, extendedPropertyStatement(v.Schema, v.ViewName, ep))
	}
	return Command{Kind: KindSchemaBoundView, Action: ActionReconstruct, Object: name, Statements: stmts}
}

func extendedPropertyStatement(schema, view string, ep ExtendedProperty) string {
	stmt := fmt.Sprintf("EXEC sys.sp_addextendedproperty @name = %s, @value = %s, @level0type = N'SCHEMA', @level0name = %s, @level1type = N'VIEW', @level1name = %s",
		utils.QuoteLiteral(ep.PropertyName), utils.QuoteLiteral(ep.Value), utils.QuoteLiteral(schema), utils.QuoteLiteral(view))
	if ep.Column != "" {
		stmt += fmt.Sprintf(", @level2type = N'COLUMN', @level2name = %s", utils.QuoteLiteral(ep.Column))
	}
	return stmt + ";"
}

// --- change data capture ---

func cdcTeardown(c *CDCInstance) Command {
	return Command{
		Kind:   KindCDCInstance,
		Action: ActionTeardown,
		Object: c.Name(),
		Statements: []string{fmt.Sprintf("EXEC sys.sp_cdc_disable_table @source_schema = %s, @source_name = %s, @capture_instance = %s;",
			utils.QuoteLiteral(c.SourceSchema), utils.QuoteLiteral(c.SourceTable), utils.QuoteLiteral(c.CaptureInstance))},
	}
}

func cdcReconstruct(c *CDCInstance) Command {
	params := []string{
		"@source_schema = " + utils.QuoteLiteral(c.SourceSchema),
		"@source_name = " + utils.QuoteLiteral(c.SourceTable),
		"@capture_instance = " + utils.QuoteLiteral(c.CaptureInstance),
		"@role_name = " + utils.QuoteLiteralOrNull(c.RoleName),
		"@supports_net_changes = " + utils.BoolBit(c.SupportsNetChanges),
	}
	if c.IndexName != "" {
		params = append(params, "@index_name = "+utils.QuoteLiteral(c.IndexName))
	}
	if len(c.CapturedColumns) > 0 {
		cols := make([]string, len(c.CapturedColumns))
		for i, col := range c.CapturedColumns {
			cols[i] = utils.QuoteName(col)
		}
		params = append(params, "@captured_column_list = "+utils.QuoteLiteral(strings.Join(cols, ", ")))
	}
	if c.FilegroupName != "" {
		params = append(params, "@filegroup_name = "+utils.QuoteLiteral(c.FilegroupName))
	}
	params = append(params, "@allow_partition_switch = "+utils.BoolBit(c.AllowPartitionSwitch))

	return Command{
		Kind:       KindCDCInstance,
		Action:     ActionReconstruct,
		Object:     c.Name(),
		Statements: []string{"EXEC sys.sp_cdc_enable_table " + strings.Join(params, ", ") + ";"},
	}
}

// --- replication articles ---

func articleTeardown(a *PublicationArticle) Command {
	pub, art := utils.QuoteLiteral(a.Publication), utils.QuoteLiteral(a.Article)
	var stmts []string
	if len(a.Subscriptions) > 0 {
		stmts = append(stmts, fmt.Sprintf("EXEC sp_dropsubscription @publication = %s, @article = %s, @subscriber = N'all', @destination_db = N'all';", pub, art))
	}
	stmts = append(stmts, fmt.Sprintf("EXEC sp_droparticle @publication = %s, @article = %s, @force_invalidate_snapshot = 1;", pub, art))
	return Command{Kind: KindPublicationArticle, Action: ActionTeardown, Object: a.Name(), Statements: stmts}
}

func schemaOptionLiteral(opt []byte) string {
	if len(opt) == 0 {
		return ""
	}
	return fmt.Sprintf("0x%X", opt)
}

func articleReconstruct(a *PublicationArticle) Command {
	pub, art := utils.QuoteLiteral(a.Publication), utils.QuoteLiteral(a.Article)

	params := []string{
		"@publication = " + pub,
		"@article = " + art,
		"@source_owner = " + utils.QuoteLiteral(a.SourceOwner),
		"@source_object = " + utils.QuoteLiteral(a.SourceObject),
		"@type = " + utils.QuoteLiteral(a.Type),
		"@description = " + utils.QuoteLiteralOrNull(a.Description),
	}
	if a.DestinationOwner != "" {
		params = append(params, "@destination_owner = "+utils.QuoteLiteral(a.DestinationOwner))
	}
	if a.DestinationTable != "" {
		params = append(params, "@destination_table = "+utils.QuoteLiteral(a.DestinationTable))
	}
	if a.PreCreationCmd != "" {
		params = append(params, "@pre_creation_cmd = "+utils.QuoteLiteral(a.PreCreationCmd))
	}
	if opt := schemaOptionLiteral(a.SchemaOption); opt != "" {
		params = append(params, "@schema_option = "+opt)
	}
	if a.IdentityRangeManagement != "" {
		params = append(params, "@identityrangemanagementoption = "+utils.QuoteLiteral(a.IdentityRangeManagement))
	}
	params = append(params, fmt.Sprintf("@status = %d", a.Status))
	vp := "false"
	if a.VerticalPartition {
		vp = "true"
	}
	params = append(params, "@vertical_partition = N'"+vp+"'")
	if a.InsCmd != "" {
		params = append(params, "@ins_cmd = "+utils.QuoteLiteral(a.InsCmd))
	}
	if a.DelCmd != "" {
		params = append(params, "@del_cmd = "+utils.QuoteLiteral(a.DelCmd))
	}
	if a.UpdCmd != "" {
		params = append(params, "@upd_cmd = "+utils.QuoteLiteral(a.UpdCmd))
	}
	params = append(params, "@force_invalidate_snapshot = 1")

	stmts := []string{"EXEC sp_addarticle " + strings.Join(params, ", ") + ";"}

	if a.VerticalPartition {
		for _, col := range a.Columns {
			stmts = append(stmts, fmt.Sprintf("EXEC sp_articlecolumn @publication = %s, @article = %s, @column = %s, @operation = N'add', @force_invalidate_snapshot = 1, @force_reinit_subscription = 1;",
				pub, art, utils.QuoteLiteral(col)))
		}
	}
	if a.FilterClause != "" {
		filterName := a.FilterName
		if filterName == "" {
			filterName = fmt.Sprintf("FLTR_%s_%s", a.SourceObject, a.Article)
		}
		stmts = append(stmts, fmt.Sprintf("EXEC sp_articlefilter @publication = %s, @article = %s, @filter_name = %s, @filter_clause = %s, @force_invalidate_snapshot = 1, @force_reinit_subscription = 1;",
			pub, art, utils.QuoteLiteral(filterName), utils.QuoteLiteral(a.FilterClause)))
	}
	if a.FilterClause != "" || a.VerticalPartition {
		stmt := fmt.Sprintf("EXEC sp_articleview @publication = %s, @article = %s", pub, art)
		if a.FilterClause != "" {
			stmt += ", @filter_clause = " + utils.QuoteLiteral(a.FilterClause)
		}
		stmts = append(stmts, stmt+", @force_invalidate_snapshot = 1, @force_reinit_subscription = 1;")
	}

	for _, sub := range a.Subscriptions {
		stmts = append(stmts, fmt.Sprintf("EXEC sp_addsubscription @publication = %s, @article = %s, @subscriber = %s, @destination_db = %s, @subscription_type = %s, @sync_type = %s;",
			pub, art, utils.QuoteLiteral(sub.Subscriber), utils.QuoteLiteral(sub.DestinationDB),
			utils.QuoteLiteral(defaultString(sub.SubscriptionType, "push")), utils.QuoteLiteral(defaultString(sub.SyncType, "automatic"))))
	}
	return Command{Kind: KindPublicationArticle, Action: ActionReconstruct, Object: a.Name(), Statements: stmts}
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
