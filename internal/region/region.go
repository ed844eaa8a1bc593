// Package region picks the remote browser deployment region closest to a caller's timezone.
package region

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xkilldash9x/browser-operator/api/schemas"
)

// Default is returned when no better match exists.
const Default = schemas.RegionUSWest2

// exactZones are east-coast-equivalent zones served best by us-east-1.
var exactZones = map[string]schemas.Region{
	"America/New_York": schemas.RegionUSEast1,
	"America/Detroit":  schemas.RegionUSEast1,
	"America/Toronto":  schemas.RegionUSEast1,
	"America/Montreal": schemas.RegionUSEast1,
	"America/Boston":   schemas.RegionUSEast1,
	"America/Chicago":  schemas.RegionUSEast1,
}

var prefixRegions = map[string]schemas.Region{
	"America":   schemas.RegionUSWest2,
	"US":        schemas.RegionUSWest2,
	"Canada":    schemas.RegionUSWest2,
	"Europe":    schemas.RegionEUCentral1,
	"Africa":    schemas.RegionEUCentral1,
	"Asia":      schemas.RegionAPSoutheast1,
	"Australia": schemas.RegionAPSoutheast1,
	"Pacific":   schemas.RegionAPSoutheast1,
}

type offsetBand struct {
	min, max int // inclusive, whole hours
	region   schemas.Region
}

// offsetBands partition [-24, 24]; checked in order.
var offsetBands = []offsetBand{
	{min: -24, max: -4, region: schemas.RegionUSWest2},
	{min: -3, max: 4, region: schemas.RegionEUCentral1},
	{min: 5, max: 24, region: schemas.RegionAPSoutheast1},
}

// Select maps an IANA timezone name to a region. It never fails: unknown or
// malformed input yields Default.
func Select(tz string) schemas.Region {
	return selectAt(tz, time.Now())
}

func selectAt(tz string, now time.Time) schemas.Region {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return Default
	}
	if r, ok := exactZones[tz]; ok {
		return r
	}
	prefix, _, _ := strings.Cut(tz, "/")
	if r, ok := prefixRegions[prefix]; ok {
		return r
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Default
	}
	_, offsetSeconds := now.In(loc).Zone()
	// Half-hour zones truncate toward zero so the bands leave no gaps.
	return ForOffset(offsetSeconds / 3600)
}

// ForOffset maps a whole-hour UTC offset onto the offset bands.
func ForOffset(hours int) schemas.Region {
	for _, band := range offsetBands {
		if hours >= band.min && hours <= band.max {
			return band.region
		}
	}
	return Default
}

// LocalZoneName returns the IANA name of the process timezone, or "" if unknown.
// TZ wins; otherwise the /etc/localtime symlink target is inspected.
func LocalZoneName() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return strings.TrimPrefix(tz, ":")
	}
	if name := time.Local.String(); name != "Local" && name != "" {
		return name
	}
	target, err := os.Readlink("/etc/localtime")
	if err != nil {
		return ""
	}
	if _, zone, ok := strings.Cut(filepath.ToSlash(target), "zoneinfo/"); ok {
		return zone
	}
	return ""
}

// Local selects the region for the server's own timezone.
func Local() schemas.Region {
	return Select(LocalZoneName())
}
