package stomp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

func TestParseHeartBeat(t *testing.T) {
	type ParseTest struct {
		Value  string
		Expect stomp.HeartBeat
		Err    bool
	}
	tests := []ParseTest{
		{Value: "", Expect: stomp.HeartBeat{}},
		{Value: "0,0", Expect: stomp.HeartBeat{}},
		{Value: "100,250", Expect: stomp.HeartBeat{Send: 100 * time.Millisecond, Receive: 250 * time.Millisecond}},
		{Value: " 5 , 10 ", Expect: stomp.HeartBeat{Send: 5 * time.Millisecond, Receive: 10 * time.Millisecond}},
		{Value: "100", Err: true},
		{Value: "1,2,3", Err: true},
		{Value: "a,1", Err: true},
		{Value: "-1,0", Err: true},
	}
	for _, test := range tests {
		t.Run(test.Value, func(t *testing.T) {
			chk := assert.New(t)
			hb, err := stomp.ParseHeartBeat(test.Value)
			if test.Err {
				chk.ErrorIs(err, stomp.ErrFrame)
				return
			}
			chk.NoError(err)
			chk.Equal(test.Expect, hb)
		})
	}
}

func TestHeartBeat_String(t *testing.T) {
	chk := assert.New(t)
	chk.Equal("0,0", stomp.HeartBeat{}.String())
	chk.Equal("1000,1500", stomp.HeartBeat{Send: time.Second, Receive: 1500 * time.Millisecond}.String())
}

func TestNegotiateHeartBeat(t *testing.T) {
	ms := func(send, receive int) stomp.HeartBeat {
		return stomp.HeartBeat{Send: time.Duration(send) * time.Millisecond, Receive: time.Duration(receive) * time.Millisecond}
	}
	type NegotiateTest struct {
		Name    string
		Local   stomp.HeartBeat
		Remote  stomp.HeartBeat
		Ping    time.Duration
		Silence time.Duration
	}
	tests := []NegotiateTest{
		{Name: "both disabled", Local: ms(0, 0), Remote: ms(0, 0)},
		{Name: "remote wants nothing", Local: ms(100, 100), Remote: ms(0, 0)},
		{Name: "local offers nothing", Local: ms(0, 0), Remote: ms(100, 100)},
		{Name: "larger period wins", Local: ms(100, 300), Remote: ms(200, 50), Ping: 100 * time.Millisecond, Silence: 300 * time.Millisecond},
		{Name: "remote receives slower", Local: ms(100, 0), Remote: ms(0, 400), Ping: 400 * time.Millisecond},
		{Name: "remote sends slower", Local: ms(0, 100), Remote: ms(500, 0), Silence: 500 * time.Millisecond},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			chk := assert.New(t)
			ping, silence := stomp.NegotiateHeartBeat(test.Local, test.Remote)
			chk.Equal(test.Ping, ping)
			chk.Equal(test.Silence, silence)
		})
	}
}
