package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sefinek24/UFW-AbuseIPDB-Reporter/internal/domain"
)

// DefaultCategory is the AbuseIPDB "Port Scan" code, used when nothing more
// specific is known about the destination.
const DefaultCategory = "14"

// MaxCategoryCode is the highest code in the AbuseIPDB taxonomy.
const MaxCategoryCode = 23

// CategoryTable maps upper-case protocol to destination port to codes.
type CategoryTable map[string]map[int]string

func DefaultCategoryTable() CategoryTable {
	tcp := map[int]string{
		22:   "14,22,18",
		80:   "14,21",
		443:  "14,21",
		8080: "14,21",
		25:   "14,11",
		21:   "14,5,18",
		53:   "14,1,2",
		23:   "14,15,18",
		3389: "14,15,18",
		3306: "14,16",
		9999: "14,6",
	}
	for port := 6666; port <= 6669; port++ {
		tcp[port] = "14,8"
	}

	return CategoryTable{
		"TCP": tcp,
		"UDP": {
			53:  "14,1,2",
			123: "14,17",
		},
	}
}

// Categorizer maps (protocol, destination port) to AbuseIPDB category codes.
// It is immutable after construction and safe for concurrent use.
type Categorizer struct {
	table CategoryTable
}

func NewCategorizer(table CategoryTable) *Categorizer {
	if table == nil {
		table = DefaultCategoryTable()
	}
	normalized := make(CategoryTable, len(table))
	for proto, ports := range table {
		key := strings.ToUpper(strings.TrimSpace(proto))
		if normalized[key] == nil {
			normalized[key] = make(map[int]string, len(ports))
		}
		for port, codes := range ports {
			normalized[key][port] = codes
		}
	}
	return &Categorizer{table: normalized}
}

func (c *Categorizer) CategoriesFor(protocol domain.Opt[string], port domain.Opt[int]) string {
	proto, ok := protocol.Get()
	if !ok {
		return DefaultCategory
	}
	dpt, ok := port.Get()
	if !ok {
		return DefaultCategory
	}
	ports, ok := c.table[strings.ToUpper(proto)]
	if !ok {
		return DefaultCategory
	}
	if codes, ok := ports[dpt]; ok {
		return codes
	}
	return DefaultCategory
}

// ValidateCategories checks a comma-separated list of category codes.
func ValidateCategories(codes string) error {
	if strings.TrimSpace(codes) == "" {
		return fmt.Errorf("empty category list")
	}
	for _, part := range strings.Split(codes, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("category %q is not a number", part)
		}
		if n < 1 || n > MaxCategoryCode {
			return fmt.Errorf("category %d out of range 1-%d", n, MaxCategoryCode)
		}
	}
	return nil
}

// ParseCategoryOverrides builds a table from config data shaped as
// protocol -> port (or "low-high" range) -> codes, layered over the
// defaults.
func ParseCategoryOverrides(raw map[string]map[string]string) (CategoryTable, error) {
	table := DefaultCategoryTable()

	for proto, entries := range raw {
		key := strings.ToUpper(strings.TrimSpace(proto))
		if key == "" {
			return nil, &ConfigValidationError{Field: "report.categories", Value: proto, Reason: "empty protocol"}
		}
		if table[key] == nil {
			table[key] = make(map[int]string)
		}
		for portSpec, codes := range entries {
			field := "report.categories." + strings.ToLower(key) + "." + portSpec
			codes = strings.ReplaceAll(codes, " ", "")
			if err := ValidateCategories(codes); err != nil {
				return nil, &ConfigValidationError{Field: field, Value: codes, Reason: err.Error()}
			}
			low, high, err := parsePortSpec(portSpec)
			if err != nil {
				return nil, &ConfigValidationError{Field: field, Value: portSpec, Reason: err.Error()}
			}
			for port := low; port <= high; port++ {
				table[key][port] = codes
			}
		}
	}
	return table, nil
}

func parsePortSpec(spec string) (int, int, error) {
	spec = strings.TrimSpace(spec)
	lowStr, highStr, isRange := strings.Cut(spec, "-")
	if !isRange {
		highStr = lowStr
	}
	low, err := strconv.Atoi(strings.TrimSpace(lowStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port")
	}
	high, err := strconv.Atoi(strings.TrimSpace(highStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port")
	}
	if low < 0 || high > 65535 || low > high {
		return 0, 0, fmt.Errorf("port range must be within 0-65535")
	}
	return low, high, nil
}
