package crypto

// PIIKind names the field class being masked for logs, adapted from the
// teacher's MaskPII switch.
type PIIKind string

const (
	PIIEmail PIIKind = "email"
	PIIPhone PIIKind = "phone"
	PIIName  PIIKind = "name"
	PIISSN   PIIKind = "ssn"
)

// Mask redacts a value for safe logging, generalized from the teacher's
// per-domain MaskPII into the one PII shape OCCAM actually carries
// (Entity.Contact), per the contact-info supplement.
func Mask(value string, kind PIIKind) string {
	if len(value) == 0 {
		return ""
	}
	switch kind {
	case PIIEmail:
		return maskEmail(value)
	case PIIPhone:
		return maskPhone(value)
	case PIIName:
		return maskName(value)
	case PIISSN:
		return maskSSN(value)
	default:
		return "***MASKED***"
	}
}

func maskEmail(email string) string {
	if len(email) < 3 {
		return "***"
	}
	atIdx := -1
	for i, c := range email {
		if c == '@' {
			atIdx = i
			break
		}
	}
	if atIdx <= 0 {
		return "***"
	}
	return string(email[0]) + "***" + email[atIdx:]
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "****"
	}
	return phone[:2] + "***" + phone[len(phone)-4:]
}

func maskName(name string) string {
	if len(name) < 2 {
		return "***"
	}
	return string(name[0]) + "***"
}

func maskSSN(ssn string) string {
	if len(ssn) < 4 {
		return "***"
	}
	return "***-**-" + ssn[len(ssn)-4:]
}
