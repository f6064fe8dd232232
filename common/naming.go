package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var regionRe = regexp.MustCompile("^[a-zA-Z0-9-:_]+$")

// ValidateRegion checks the region identifier used in output file names
func ValidateRegion(region string) error {
	if !regionRe.MatchString(region) {
		return fmt.Errorf("wrong format for region '%s' (must be chars, numbers and -:_)", region)
	}
	return nil
}

// OutputFileName returns the export file name of one timestamp:
// <region>_<YYYY-MM-DD>.tif for the analysis variant,
// <region>_<YYYY-MM-DD>_rgb.tif for the 8-bit display variant.
func OutputFileName(region string, ts time.Time, rgb bool) string {
	if rgb {
		return fmt.Sprintf("%s_%s_rgb.tif", region, ts.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s_%s.tif", region, ts.Format("2006-01-02"))
}

/* FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
 * keys must be one of COLLECTION, SCENE, BAND, DATE(YEAR/MONTH/DAY), TIME
 */
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}

// BracketsInfo returns the {key} replacements available for an acquisition
func BracketsInfo(collectionID, sceneID, band string, ts time.Time) map[string]string {
	return map[string]string{
		"COLLECTION": collectionID,
		"SCENE":      sceneID,
		"BAND":       band,
		"DATE":       ts.Format("20060102"),
		"YEAR":       ts.Format("2006"),
		"MONTH":      ts.Format("01"),
		"DAY":        ts.Format("02"),
		"TIME":       ts.Format("150405"),
	}
}
