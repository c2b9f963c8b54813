package mail

import (
	"fmt"
	"net"
	"net/smtp"
	"sync"

	"github.com/sirupsen/logrus"
)

const poolWorkers = 4

// Message is one outgoing mail.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Config carries the SMTP transport settings.
type Config struct {
	Server        string // host:port
	Username      string
	Password      string
	DefaultSender string
}

// Sender delivers mail over SMTP. Sends run on a fixed pool of workers so
// the number of concurrent SMTP sessions stays bounded; submission blocks
// when every worker is busy. Email is best effort: transport failures are
// logged and swallowed.
type Sender struct {
	cfg  Config
	jobs chan Message
	wg   sync.WaitGroup
	log  *logrus.Entry

	// transport is swapped in tests.
	transport func(Message) error
}

func NewSender(cfg Config, log *logrus.Entry) *Sender {
	s := &Sender{
		cfg:  cfg,
		jobs: make(chan Message),
		log:  log,
	}
	s.transport = s.smtpSend
	s.wg.Add(poolWorkers)
	for i := 0; i < poolWorkers; i++ {
		go s.worker()
	}
	return s
}

// Send queues one mail for delivery. It blocks until a worker picks the
// message up.
func (s *Sender) Send(to, subject, text string) {
	s.jobs <- Message{To: to, Subject: subject, Text: text}
}

// Close stops accepting mail and waits for in-flight sends to finish.
func (s *Sender) Close() {
	close(s.jobs)
	s.wg.Wait()
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for msg := range s.jobs {
		if err := s.transport(msg); err != nil {
			s.log.Errorf("Send Email Error: %v", err)
		}
	}
}

func (s *Sender) smtpSend(msg Message) error {
	host, _, err := net.SplitHostPort(s.cfg.Server)
	if err != nil {
		host = s.cfg.Server
	}
	content := buildContent(s.cfg.DefaultSender, msg.Subject, msg.Text)
	auth := LoginAuth(s.cfg.Username, s.cfg.Password, host)
	if err := smtp.SendMail(s.cfg.Server, auth, s.cfg.DefaultSender, []string{msg.To}, content); err != nil {
		return fmt.Errorf("sendmail to %s: %w", msg.To, err)
	}
	return nil
}

func buildContent(from, subject, text string) []byte {
	return []byte(fmt.Sprintf("From: %s\nSubject: %s\n\n%s", from, subject, text))
}
