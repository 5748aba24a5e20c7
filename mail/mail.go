package mail

import (
	"crypto/tls"
	"net/smtp"
)

// Sender delivers account mail over SMTP with STARTTLS.
type Sender struct {
	Host string
	Port string
	User string
	Pass string
	From string
}

func NewSender(host, port, user, pass, from string) *Sender {
	if from == "" {
		from = user
	}
	return &Sender{Host: host, Port: port, User: user, Pass: pass, From: from}
}

// SendWelcomeEmail sends a short greeting to a freshly registered account.
func (s *Sender) SendWelcomeEmail(toEmail, fullName string) error {
	subject := "Welcome aboard"
	body := "Hi " + fullName + ",\n\nYour account has been created. You can log in right away."

	msg := []byte("To: " + toEmail + "\r\n" +
		"From: " + s.From + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"\r\n" + body)

	client, err := smtp.Dial(s.Host + ":" + s.Port)
	if err != nil {
		return err
	}
	defer client.Close()

	tlsConfig := &tls.Config{
		ServerName: s.Host,
	}
	if err = client.StartTLS(tlsConfig); err != nil {
		return err
	}

	auth := smtp.PlainAuth("", s.User, s.Pass, s.Host)
	if err = client.Auth(auth); err != nil {
		return err
	}

	if err = client.Mail(s.From); err != nil {
		return err
	}
	if err = client.Rcpt(toEmail); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	defer w.Close()

	_, err = w.Write(msg)
	return err
}
