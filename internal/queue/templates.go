package queue

import "fmt"

// Canned messages the team backend sends most often. Producers fill the
// dynamic bits; priorities follow how urgent each mail is for the user.

// WelcomeEmail builds the enqueue request for a new account notification.
func WelcomeEmail(name, email, tempPassword string) EnqueueRequest {
	body := fmt.Sprintf(`<div style="font-family: sans-serif;">
  <h2>Hello %s!</h2>
  <p>An account was created for you on the Alpha Race Team system.</p>
  <p>Your temporary password is:</p>
  <p style="font-size: 20px; font-weight: bold; background-color: #f0f0f0; padding: 10px; border-radius: 5px; display: inline-block;">%s</p>
  <p>Use it to sign in and change it in your account settings.</p>
  <br>
  <p>Happy racing! 🏁</p>
  <p>Alpha Race Team</p>
</div>`, name, tempPassword)

	return EnqueueRequest{
		Recipient:  email,
		Subject:    "Welcome to Alpha Race Team!",
		HTMLBody:   body,
		TemplateID: "welcome",
		Metadata:   map[string]string{"name": name, "kind": "welcome"},
		Priority:   5,
	}
}

// PasswordResetEmail builds the enqueue request for a password recovery
// link. Reset mails jump the queue.
func PasswordResetEmail(name, email, resetURL string) EnqueueRequest {
	body := fmt.Sprintf(`<div style="font-family: sans-serif;">
  <h2>Hello %s!</h2>
  <p>You asked to reset the password of your account.</p>
  <p><a href="%s" target="_blank" style="background-color: #007bff; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;">Reset password</a></p>
  <p>This link expires in 1 hour.</p>
  <br>
  <p>If you did not request this, ignore this email.</p>
  <p>Alpha Race Team</p>
</div>`, name, resetURL)

	return EnqueueRequest{
		Recipient:  email,
		Subject:    "Password recovery - Alpha Race Team",
		HTMLBody:   body,
		TemplateID: "password-reset",
		Metadata:   map[string]string{"name": name, "kind": "password-reset"},
		Priority:   8,
	}
}
