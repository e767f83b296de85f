package policy

// RawConfig is the serialized permission configuration before validation.
// It accepts the flat role shape (tables, operations, columns, row_filters)
// and an explicit per-table permissions map that replaces flat entries for
// the tables it names.
type RawConfig struct {
	Version     string                       `yaml:"version"`
	DefaultRole string                       `yaml:"default_role" validate:"required"`
	Roles       map[string]RawRole           `yaml:"roles" validate:"required,min=1,dive"`
	Tables      map[string]RawTable          `yaml:"tables" validate:"required,min=1,dive"`
	Masking     map[string]map[string]string `yaml:"masking"`
}

// RawRole is one role entry.
type RawRole struct {
	Description          string                   `yaml:"description"`
	Tables               []string                 `yaml:"tables"`
	Operations           []string                 `yaml:"operations"`
	Columns              map[string][]string      `yaml:"columns"`
	RowFilters           map[string]string        `yaml:"row_filters"`
	UnrestrictedMutation []string                 `yaml:"unrestricted_mutation"`
	Permissions          map[string]RawPermission `yaml:"permissions" validate:"dive"`
}

// RawPermission is an explicit table permission.
type RawPermission struct {
	Operations           []string `yaml:"operations" validate:"required,min=1"`
	Columns              []string `yaml:"columns"`
	RowFilter            string   `yaml:"row_filter"`
	UnrestrictedMutation bool     `yaml:"unrestricted_mutation"`
	Condition            string   `yaml:"condition"`
}

// RawTable is one table schema entry.
type RawTable struct {
	PrimaryKey          string            `yaml:"primary_key"`
	PrimaryKeyGenerated bool              `yaml:"primary_key_generated"`
	Columns             []RawColumn       `yaml:"columns" validate:"required,min=1,dive"`
	RowFilter           map[string]string `yaml:"row_filter"`
}

// RawColumn is one column entry.
type RawColumn struct {
	Name      string   `yaml:"name" validate:"required"`
	Type      string   `yaml:"type"`
	Sensitive bool     `yaml:"sensitive"`
	Format    string   `yaml:"format" validate:"omitempty,oneof=email phone ssn credit_card"`
	VisibleTo []string `yaml:"visible_to"`
}
