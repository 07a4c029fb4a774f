// File: pkg/formatter/object_formatter.go
package formatter

import (
	"fmt"
	"strings"
	"time"

	"objstore/pkg/storage"

	"github.com/dustin/go-humanize"
)

type ObjectFormatter struct{}

func NewObjectFormatter() *ObjectFormatter {
	return &ObjectFormatter{}
}

// Renders a listing as a table. Common prefixes come first, marked as
// directories, followed by the objects.
func (f *ObjectFormatter) FormatObjectList(res storage.ListResult) string {
	table := NewTable([]string{"NAME", "SIZE", "MODIFIED", "ETAG"}).AlignRight(1)

	for _, prefix := range res.CommonPrefixes {
		table.AddRow([]string{prefix.String() + storage.Delimiter, "DIR", "", ""})
	}
	for _, obj := range res.Objects {
		table.AddRow([]string{
			obj.Location.String(),
			FormatBytes(obj.Size),
			formatTime(obj.LastModified, "2006-01-02 15:04:05"),
			obj.ETag,
		})
	}

	return table.String()
}

func (f *ObjectFormatter) FormatObjectDetails(meta storage.ObjectMeta) string {
	var result string

	result += FormatHeaderSection("Object: " + meta.Location.String())
	result += "\n\n"

	result += FormatSectionTitle("Overview")
	result += "\n"

	overviewTable := NewTable([]string{"Parameter", "Value"})

	details := []struct {
		Key   string
		Value string
	}{
		{"Size", fmt.Sprintf("%s (%d bytes)", FormatBytes(meta.Size), meta.Size)},
		{"Last Modified", formatTime(meta.LastModified, time.RFC1123)},
		{"ETag", orDash(meta.ETag)},
		{"Version", orDash(meta.Version)},
	}

	for _, detail := range details {
		overviewTable.AddRow([]string{detail.Key, detail.Value})
	}

	result += overviewTable.String()
	result += "\n"

	return result
}

// Summarizes the bytes stored below a location. objects is -1 when the
// count is not known.
func (f *ObjectFormatter) FormatUsage(location string, bytes, objects int64, source string) string {
	table := NewTable([]string{"LOCATION", "USAGE", "OBJECTS", "SOURCE"})

	count := "-"
	if objects >= 0 {
		count = humanize.Comma(objects)
	}
	table.AddRow([]string{location, FormatBytes(bytes), count, source})

	return table.String()
}

// Human-readable size in SI units, e.g. "4.2 MB"
func FormatBytes(n int64) string {
	if n < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(n))
}

// Parses sizes such as "8MiB", "5 MB" or "1048576"
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return int64(n), nil
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() || t.Unix() == 0 {
		return "-"
	}
	return t.Format(layout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
