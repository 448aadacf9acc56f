// Package storage holds the blob layout shared by every backend.
package storage

import (
	"fmt"
	"strings"
	"time"
)

// Blob containers.
const (
	ContainerRaw  = "raw"
	ContainerDocs = "docs"
)

// TimestampLayout is the compact UTC stamp used in blob paths.
const TimestampLayout = "20060102T150405Z"

// BuildPath returns {container}/{companyID}/{ts}/{filename}.
func BuildPath(container string, companyID int64, ts time.Time, filename string) string {
	return fmt.Sprintf("%s/%d/%s/%s",
		strings.Trim(container, "/"),
		companyID,
		ts.UTC().Format(TimestampLayout),
		strings.TrimLeft(filename, "/"),
	)
}
