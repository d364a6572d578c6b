// Package query builds the list query over the live snapshot joined with the
// bookmarks table.
//
// The sort column is spliced into the SQL text because identifiers cannot be
// bound as parameters. It is therefore only ever taken from the allow-list
// below; any other input falls back to DefaultSort. The query carries no
// value predicates.
package query

import (
	"strings"
)

// Column is an allow-listed sortable column of the servers table.
type Column string

const (
	Hash          Column = "hash"
	IP            Column = "ip_str"
	Port          Column = "port"
	City          Column = "location_city"
	Country       Column = "location_country_name"
	Version       Column = "version"
	PlayersOnline Column = "players_online"
	PlayersMax    Column = "players_max"
	Description   Column = "description"

	DefaultSort = PlayersOnline
)

// Columns lists the shared column set of servers and starred_servers in
// table order.
var Columns = []Column{Hash, IP, Port, City, Country, Version, PlayersOnline, PlayersMax, Description}

// sortable maps accepted spellings (column names and camelCase field names)
// to columns.
var sortable = map[string]Column{
	"hash":                  Hash,
	"ip_str":                IP,
	"ipstr":                 IP,
	"ip":                    IP,
	"port":                  Port,
	"location_city":         City,
	"city":                  City,
	"location_country_name": Country,
	"locationcountryname":   Country,
	"country":               Country,
	"version":               Version,
	"players_online":        PlayersOnline,
	"playersonline":         PlayersOnline,
	"players_max":           PlayersMax,
	"playersmax":            PlayersMax,
	"description":           Description,
}

// Direction is the sort direction.
type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// Filter restricts rows by bookmark state.
type Filter string

const (
	FilterNone      Filter = ""
	FilterStarred   Filter = "starred"
	FilterUnstarred Filter = "unstarred"
)

// Options are validated list options.
type Options struct {
	Sort   Column
	Order  Direction
	Filter Filter
}

// Key identifies the options, e.g. for caching.
func (o Options) Key() string {
	return string(o.Sort) + "|" + string(o.Order) + "|" + string(o.Filter)
}

// Resolve validates raw user input. Unknown sort columns become DefaultSort,
// unknown directions become Ascending and unknown filters become FilterNone.
func Resolve(sort, order, filter string) Options {
	opts := Options{Sort: DefaultSort, Order: Ascending, Filter: FilterNone}

	key := strings.ToLower(strings.TrimSpace(sort))
	if c, ok := sortable[key]; ok {
		opts.Sort = c
	} else if c, ok := sortable[strings.ReplaceAll(key, "_", "")]; ok {
		opts.Sort = c
	}

	switch strings.ToLower(strings.TrimSpace(order)) {
	case "desc", "descending":
		opts.Order = Descending
	}

	switch Filter(strings.ToLower(strings.TrimSpace(filter))) {
	case FilterStarred:
		opts.Filter = FilterStarred
	case FilterUnstarred:
		opts.Filter = FilterUnstarred
	}
	return opts
}

// Dialect holds the per-database bits of the list query.
type Dialect struct {
	Name string
	// TieBreak orders rows with equal sort values by storage order.
	TieBreak string
	True     string
	False    string
}

var (
	SQLite   = Dialect{Name: "sqlite", TieBreak: "servers.rowid", True: "1", False: "0"}
	Postgres = Dialect{Name: "postgres", TieBreak: "servers.ctid", True: "TRUE", False: "FALSE"}
)

// Query is an executable list query and the options it was built from.
type Query struct {
	SQL     string
	Options Options
}

// Build resolves the raw options and renders the list query.
func Build(sort, order, filter string, d Dialect) Query {
	return BuildOptions(Resolve(sort, order, filter), d)
}

// BuildOptions renders the list query for already resolved options. Options
// that did not come from Resolve are re-validated.
func BuildOptions(opts Options, d Dialect) Query {
	opts = Resolve(string(opts.Sort), string(opts.Order), string(opts.Filter))

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, c := range Columns {
		b.WriteString("servers.")
		b.WriteString(string(c))
		b.WriteString(", ")
	}
	b.WriteString("CASE WHEN starred_servers.hash IS NOT NULL THEN ")
	b.WriteString(d.True)
	b.WriteString(" ELSE ")
	b.WriteString(d.False)
	b.WriteString(" END AS is_starred")
	b.WriteString(" FROM servers LEFT JOIN starred_servers ON servers.hash = starred_servers.hash")

	switch opts.Filter {
	case FilterStarred:
		b.WriteString(" WHERE starred_servers.hash IS NOT NULL")
	case FilterUnstarred:
		b.WriteString(" WHERE starred_servers.hash IS NULL")
	}

	b.WriteString(" ORDER BY servers.")
	b.WriteString(string(opts.Sort))
	if opts.Order == Descending {
		b.WriteString(" DESC")
	} else {
		b.WriteString(" ASC")
	}
	if d.TieBreak != "" {
		b.WriteString(", ")
		b.WriteString(d.TieBreak)
	}

	return Query{SQL: b.String(), Options: opts}
}

// ColumnList renders the shared column list, optionally qualified by table.
func ColumnList(table string) string {
	parts := make([]string, len(Columns))
	for i, c := range Columns {
		if table != "" {
			parts[i] = table + "." + string(c)
		} else {
			parts[i] = string(c)
		}
	}
	return strings.Join(parts, ", ")
}
