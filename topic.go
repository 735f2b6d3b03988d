package autoflow

import "strconv"

// EnrollmentTopic is the stream topic enrollment status change events are
// published to, one topic per tenant so downstream consumers stay tenant
// scoped.
func EnrollmentTopic(tenantID int64) string {
	return "autoflow-enrollments-" + strconv.FormatInt(tenantID, 10)
}
