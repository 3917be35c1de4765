package mailer

import (
	"fmt"
	"time"
)

const (
	verificationSubject  = "SPHERE - Verification Code"
	passwordResetSubject = "SPHERE - Password Reset Code"
)

// VerificationCode is the login second-factor email.
func VerificationCode(to, code string, ttl time.Duration) Message {
	return codeMessage(to, verificationSubject, "Your verification code is", code, ttl)
}

// PasswordResetCode is the forgot-password email.
func PasswordResetCode(to, code string, ttl time.Duration) Message {
	return codeMessage(to, passwordResetSubject, "Your password reset code is", code, ttl)
}

func codeMessage(to, subject, lead, code string, ttl time.Duration) Message {
	minutes := int(ttl.Minutes())
	return Message{
		To:      to,
		Subject: subject,
		Text:    fmt.Sprintf("%s: %s\n\nThis code expires in %d minutes.", lead, code, minutes),
		HTML: fmt.Sprintf(`
		<p>%s:</p>
		<p style="font-size:24px;letter-spacing:4px"><strong>%s</strong></p>
		<p>This code expires in %d minutes. If you did not request it, you can ignore this email.</p>
	`, lead, code, minutes),
	}
}
