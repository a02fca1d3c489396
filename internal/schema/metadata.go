package schema

// Metadata columns stamped onto every managed table. The load-type column is
// wide enough for the 'backup' marker used in snapshot rows.
const (
	LoadTimeColumn = "ref_data_loadtime"
	LoadTypeColumn = "ref_data_loadtype"
	VersionColumn  = "ref_data_version_id"

	LoadTimeType = "datetime"
	LoadTypeType = "varchar(10)"
	VersionType  = "int"
)

// Load-type codes persisted per row.
const (
	LoadTypeFull   = "F"
	LoadTypeAppend = "A"
	LoadTypeBackup = "backup"
)

// Table name suffixes for the ingestion run's companion tables.
const (
	StageSuffix  = "_stage"
	BackupSuffix = "_backup"
)

// IsMetadataColumn reports whether name is one of the managed metadata
// columns (case-insensitive).
func IsMetadataColumn(name string) bool {
	return equalFold(name, LoadTimeColumn) ||
		equalFold(name, LoadTypeColumn) ||
		equalFold(name, VersionColumn)
}

// DataColumns filters out the managed metadata columns.
func DataColumns(cols []Column) []Column {
	out := make([]Column, 0, len(cols))
	for _, c := range cols {
		if !IsMetadataColumn(c.Name) {
			out = append(out, c)
		}
	}
	return out
}
