package sms

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

const (
	poolWorkers   = 4
	maxTextLength = 127
)

type message struct {
	Phone string
	Text  string
}

// Sender queues SMS delivery on a fixed worker pool, mirroring the mail
// pool. The gateway integration is not wired yet, so the transport is a
// logged stub.
type Sender struct {
	jobs chan message
	wg   sync.WaitGroup
	log  *logrus.Entry

	transport func(phone, text string) error
}

func NewSender(log *logrus.Entry) *Sender {
	s := &Sender{
		jobs: make(chan message),
		log:  log,
	}
	s.transport = s.stubSend
	s.wg.Add(poolWorkers)
	for i := 0; i < poolWorkers; i++ {
		go s.worker()
	}
	return s
}

// Send queues one SMS. Messages at or over 127 characters are dropped.
// A missing leading + on the phone number is added.
func (s *Sender) Send(phone, text string) {
	if utf8.RuneCountInString(text) >= maxTextLength {
		s.log.Errorf("Sms message too long: [%q]. SMS NOT SEND!", text)
		return
	}
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	s.jobs <- message{Phone: phone, Text: text}
}

func (s *Sender) Close() {
	close(s.jobs)
	s.wg.Wait()
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for msg := range s.jobs {
		if err := s.transport(msg.Phone, msg.Text); err != nil {
			s.log.Errorf("Send SMS Error: %v", err)
		}
	}
}

func (s *Sender) stubSend(phone, text string) error {
	s.log.Warnf("Send SMS function NOT IMPLEMENTED! Dropping SMS to %s", phone)
	return nil
}
