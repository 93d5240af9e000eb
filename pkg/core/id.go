package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Entity ids are built from escaped path segments. Each level has its own
// separator, so ids are unique across kinds:
//
//	suite    auth login
//	browser  auth login@chrome
//	result   auth login@chrome#0
//	image    auth login@chrome#0/plain
const (
	suiteSeparator   = " "
	browserSeparator = "@"
	attemptSeparator = "#"
	imageSeparator   = "/"
)

var segmentEscaper = strings.NewReplacer("%", "%25", " ", "%20", "@", "%40", "#", "%23", "/", "%2F")

// EscapeSegment escapes the separator characters in one id segment.
func EscapeSegment(s string) string {
	return segmentEscaper.Replace(s)
}

// SuiteID returns the id of the suite at path.
func SuiteID(path []string) string {
	parts := make([]string, len(path))
	for i, name := range path {
		parts[i] = EscapeSegment(name)
	}
	return strings.Join(parts, suiteSeparator)
}

// BrowserID returns the id of a browser under a suite.
func BrowserID(suiteID, browser string) string {
	return suiteID + browserSeparator + EscapeSegment(browser)
}

// ResultID returns the id of an attempt under a browser.
func ResultID(browserID string, attempt int) string {
	return browserID + attemptSeparator + strconv.Itoa(attempt)
}

// ImageID returns the id of an image under a result. Images without a state
// name are keyed by their status and position.
func ImageID(resultID, stateName string, status TestStatus, index int) string {
	if stateName != "" {
		return resultID + imageSeparator + EscapeSegment(stateName)
	}
	return resultID + imageSeparator + fmt.Sprintf("%s_%d", status, index)
}

// Location identifies where a result belongs in the tree.
type Location struct {
	SuitePath []string `json:"suitePath"`
	Browser   string   `json:"browserId"`
	Version   string   `json:"browserVersion,omitempty"`
}

// SuiteID returns the id of the suite the location points at.
func (l Location) SuiteID() string {
	return SuiteID(l.SuitePath)
}

// BrowserID returns the id of the browser the location points at.
func (l Location) BrowserID() string {
	return BrowserID(l.SuiteID(), l.Browser)
}

// Validate checks that the location names a suite and a browser.
func (l Location) Validate() error {
	if len(l.SuitePath) == 0 {
		return fmt.Errorf("location has empty suite path")
	}
	for i, name := range l.SuitePath {
		if name == "" {
			return fmt.Errorf("location suite path has empty segment at %d", i)
		}
	}
	if l.Browser == "" {
		return fmt.Errorf("location has empty browser")
	}
	return nil
}
