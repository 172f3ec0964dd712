package connector

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StatusError carries the HTTP status of a failed portal call so the
// failure classifier can group it without string matching.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal returned status %d: %s", e.Code, e.Body)
}

func (e *StatusError) HTTPStatus() int {
	return e.Code
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type Course struct {
	CourseID int    `json:"courseid"`
	ID       int    `json:"id"`
	Name     string `json:"name"`
}

// EffectiveID tolerates the two id spellings the portal uses.
func (c Course) EffectiveID() int {
	if c.CourseID != 0 {
		return c.CourseID
	}
	return c.ID
}

type UserInfo struct {
	UserID      string `json:"userId"`
	Email       string `json:"email"`
	UserName    string `json:"userName"`
	CompanyName string `json:"companyName"`
	DeptName    string `json:"deptName"`
	JobPosition string `json:"jobPosition"`
}

// Identifier falls back to email when the portal omits userId.
func (u UserInfo) Identifier() string {
	if strings.TrimSpace(u.UserID) != "" {
		return strings.TrimSpace(u.UserID)
	}
	return strings.TrimSpace(u.Email)
}

type ClassStatus struct {
	Status     string `json:"status"`
	StatusMsg  string `json:"statusmsg"`
	CodeName   string `json:"codename"`
	DsDate     string `json:"ds_date"`
	GcDate     string `json:"gc_date"`
	SjcDate    string `json:"sjc_date"`
	UpdateTime string `json:"update_time"`
}

// StatusRow is one (user, status) tuple from classStatusAll. Raw keeps the
// full upstream object for payload persistence.
type StatusRow struct {
	User        UserInfo
	ClassStatus ClassStatus
	Raw         map[string]interface{}
}

func (r *StatusRow) UnmarshalJSON(data []byte) error {
	var typed struct {
		User        UserInfo    `json:"user"`
		ClassStatus ClassStatus `json:"classStatus"`
	}
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.User = typed.User
	r.ClassStatus = typed.ClassStatus
	r.Raw = raw
	return nil
}

// kst is the portal's wall-clock zone; its timestamps carry no offset.
var kst = time.FixedZone("KST", 9*60*60)

// ParsePortalTime normalizes the portal's datetime strings. The literal
// "empty" means absent. The layout carries no fraction; time.Parse still
// accepts an optional fractional second of any width after the seconds
// field, which covers the portal's 1-to-6-digit stamps.
func ParsePortalTime(value string) *time.Time {
	text := strings.TrimSpace(value)
	if text == "" || strings.EqualFold(text, "empty") {
		return nil
	}
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", text, kst)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}
