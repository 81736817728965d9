package server_test

import (
	"testing"
	"time"

	gostomp "github.com/go-stomp/stomp/v3"
	"github.com/stretchr/testify/assert"

	"github.com/nofeaturesonlybugs/stomp/v2/server"
	"github.com/nofeaturesonlybugs/stomp/v2/server/testsuite"
)

// receive returns the next message of sub.
func receive(t *testing.T, sub *gostomp.Subscription) *gostomp.Message {
	t.Helper()
	select {
	case msg := <-sub.C:
		if msg.Err != nil {
			t.Fatalf("receive: %v", msg.Err)
		}
		return msg
	case <-time.After(testsuite.Timeout):
		t.Fatalf("timeout waiting for message")
	}
	return nil
}

func TestInterop_GoStomp(t *testing.T) {
	chk := assert.New(t)
	srv := &server.Server{}
	must(t, srv.ListenAndServe())
	defer srv.Shutdown()
	//
	consumer, err := gostomp.Dial("tcp", srv.Addr, gostomp.ConnOpt.Login(testsuite.TestLogin, testsuite.TestPasscode))
	must(t, err)
	defer consumer.Disconnect()
	producer, err := gostomp.Dial("tcp", srv.Addr)
	must(t, err)
	defer producer.Disconnect()
	chk.Equal(gostomp.V12, consumer.Version())
	chk.Equal("stompd/2", consumer.Server())
	chk.NotEmpty(consumer.Session())
	//
	sub, err := consumer.Subscribe("/queue/interop", gostomp.AckClientIndividual)
	must(t, err)
	chk.Eventually(func() bool {
		_, ok := srv.Destination("/queue/interop")
		return ok
	}, testsuite.Timeout, time.Millisecond)
	//
	must(t, producer.Send("/queue/interop", "text/plain", []byte("hello"), gostomp.SendOpt.Receipt))
	msg := receive(t, sub)
	chk.Equal("hello", string(msg.Body))
	chk.Equal("/queue/interop", msg.Destination)
	chk.Equal("text/plain", msg.ContentType)
	must(t, consumer.Ack(msg))
	//
	tx := producer.Begin()
	must(t, tx.Send("/queue/interop", "text/plain", []byte("one")))
	must(t, tx.Send("/queue/interop", "text/plain", []byte("two")))
	select {
	case early := <-sub.C:
		t.Fatalf("message before commit: %s", early.Body)
	case <-time.After(20 * time.Millisecond):
	}
	must(t, tx.Commit())
	chk.Equal("one", string(receive(t, sub).Body))
	chk.Equal("two", string(receive(t, sub).Body))
	//
	must(t, sub.Unsubscribe())
	chk.Eventually(func() bool {
		_, ok := srv.Destination("/queue/interop")
		return !ok
	}, testsuite.Timeout, time.Millisecond)
}

func TestInterop_GoStompVersion10(t *testing.T) {
	chk := assert.New(t)
	srv := &server.Server{}
	must(t, srv.ListenAndServe())
	defer srv.Shutdown()
	//
	conn, err := gostomp.Dial("tcp", srv.Addr, gostomp.ConnOpt.AcceptVersion(gostomp.V10))
	must(t, err)
	defer conn.Disconnect()
	chk.Equal(gostomp.V10, conn.Version())
	sub, err := conn.Subscribe("/topic/old", gostomp.AckClient)
	must(t, err)
	chk.Eventually(func() bool {
		_, ok := srv.Destination("/topic/old")
		return ok
	}, testsuite.Timeout, time.Millisecond)
	must(t, conn.Send("/topic/old", "", []byte("ping"), gostomp.SendOpt.Receipt))
	msg := receive(t, sub)
	chk.Equal("ping", string(msg.Body))
	must(t, conn.Ack(msg))
}
