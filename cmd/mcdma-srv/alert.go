// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-lpc/haru/mcdma"
	mail "gopkg.in/gomail.v2"
)

// maxAlerts is the number of mails sent per direction and channel.
const maxAlerts = 5

// alerter mails the description of transfers halted by the hardware.
type alerter struct {
	from string
	tgts []string
	send func(msg *mail.Message) error

	mu     sync.Mutex
	alerts map[string]int // number of failures per direction and channel
	sent   int
}

// newAlerter returns an alerter configured from the MAIL_XXX environment
// variables, or nil when credentials are missing.
func newAlerter() *alerter {
	var (
		usr  = os.Getenv("MAIL_USERNAME")
		pwd  = os.Getenv("MAIL_PASSWORD")
		host = os.Getenv("MAIL_SERVER")
		tgts = os.Getenv("MAIL_TGTS")
	)
	port, err := strconv.Atoi(os.Getenv("MAIL_PORT"))
	if usr == "" || pwd == "" || host == "" || tgts == "" || err != nil || port == 0 {
		log.Printf("mail alerts disabled: missing credentials")
		return nil
	}

	dial := mail.NewDialer(host, port, usr, pwd)
	return &alerter{
		from:   usr,
		tgts:   strings.Split(tgts, ","),
		send:   func(msg *mail.Message) error { return dial.DialAndSend(msg) },
		alerts: make(map[string]int),
	}
}

func (a *alerter) alert(terr *mcdma.TransferError) {
	key := fmt.Sprintf("%s/ch%d", terr.Dir, terr.Channel)

	a.mu.Lock()
	a.alerts[key]++
	n := a.alerts[key]
	if n > maxAlerts {
		a.mu.Unlock()
		return
	}
	a.sent++
	a.mu.Unlock()

	msg := mail.NewMessage()
	msg.SetHeader("From", a.from)
	msg.SetHeader("Bcc", a.tgts...)
	msg.SetHeader("Subject", fmt.Sprintf("[mcdma-srv] transfer alert: %s", key))

	body := new(strings.Builder)
	fmt.Fprintf(body, "direction: %s\nchannel:   %d\nerrors:    %v\nbd:        {%v}\n",
		terr.Dir, terr.Channel, terr.Errors, terr.Descriptor,
	)
	for _, ch := range terr.Channels {
		fmt.Fprintf(body, "ch%d:       %v bd={%v}\n", ch.ID, ch.Status, ch.Descriptor)
	}
	fmt.Fprintf(body, "alerts:    %d/%d\n", n, maxAlerts)
	msg.SetBody("text/plain", body.String())

	// the device stays locked while the handler runs.
	go func() {
		err := a.send(msg)
		if err != nil {
			log.Printf("could not send mail alert: %+v", err)
		}
	}()
}
