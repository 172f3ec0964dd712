package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/enrolsync/enrolsync/pkg/model"
)

// comparableFields is the full field set the fingerprint covers. Status alone is
// not enough: two observations can share a status while a lifecycle
// timestamp moved underneath it. Detail records carry no status fields at
// all; their comparable content is the scrubbed payload itself.
type comparableFields struct {
	Status        string `json:"status"`
	StatusMsg     string `json:"status_msg"`
	CodeName      string `json:"code_name"`
	DsDate        string `json:"ds_date"`
	GcDate        string `json:"gc_date"`
	SjcDate       string `json:"sjc_date"`
	UpdateTime    string `json:"update_time"`
	PayloadDigest string `json:"payload_digest,omitempty"`
}

// Fingerprint digests the comparable fields of a record. Equal inputs always
// produce equal digests regardless of observation order.
func Fingerprint(record *model.SourceRecord) string {
	c := comparableFields{
		Status:     record.Status,
		StatusMsg:  record.StatusMsg,
		CodeName:   record.CodeName,
		DsDate:     formatTimestamp(record.DsDate),
		GcDate:     formatTimestamp(record.GcDate),
		SjcDate:    formatTimestamp(record.SjcDate),
		UpdateTime: formatTimestamp(record.UpdateTime),
	}
	if record.SourceType == model.SourceTypeEnrolmentDetail {
		c.PayloadDigest = payloadDigest(record.Payload)
	}
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// payloadDigest canonicalizes through json.Marshal, which sorts map keys,
// so key order in the upstream response never flips the digest.
func payloadDigest(payload model.JSONB) string {
	if len(payload) == 0 {
		return ""
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func formatTimestamp(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339Nano)
}
