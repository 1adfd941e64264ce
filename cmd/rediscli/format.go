package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/pzhenzhou/rediscodec/pkg/respio"
)

// printer renders replies the way redis-cli does.
type printer struct {
	raw    bool
	errC   func(a ...interface{}) string
	intC   func(a ...interface{}) string
	nilC   func(a ...interface{}) string
	strC   func(a ...interface{}) string
	statsC func(a ...interface{}) string
}

func newPrinter(raw bool) *printer {
	return &printer{
		raw:    raw,
		errC:   color.New(color.FgRed).SprintFunc(),
		intC:   color.New(color.FgCyan).SprintFunc(),
		nilC:   color.New(color.Faint).SprintFunc(),
		strC:   color.New(color.FgGreen).SprintFunc(),
		statsC: color.New(color.FgYellow).SprintFunc(),
	}
}

func (p *printer) errorLine(msg string) string {
	if p.raw {
		return msg
	}
	return p.errC("(error) " + msg)
}

func (p *printer) format(pkt *respio.RespPacket) string {
	var b strings.Builder
	if p.raw {
		p.writeRaw(&b, pkt)
	} else {
		p.write(&b, pkt, 0)
	}
	return b.String()
}

func (p *printer) write(b *strings.Builder, pkt *respio.RespPacket, indent int) {
	if pkt.Type != respio.RespArray || pkt.IsNil() {
		b.WriteString(p.scalar(pkt))
		return
	}
	if len(pkt.Array) == 0 {
		b.WriteString(p.nilC("(empty array)"))
		return
	}
	width := len(strconv.Itoa(len(pkt.Array)))
	for i, item := range pkt.Array {
		if i > 0 {
			b.WriteByte('\n')
			b.WriteString(strings.Repeat(" ", indent))
		}
		idx := fmt.Sprintf("%*d) ", width, i+1)
		b.WriteString(idx)
		p.write(b, item, indent+len(idx))
	}
}

func (p *printer) scalar(pkt *respio.RespPacket) string {
	switch pkt.Type {
	case respio.RespStatus:
		return p.statsC(string(pkt.Data))
	case respio.RespError:
		return p.errorLine(string(pkt.Data))
	case respio.RespInt:
		return p.intC("(integer) " + strconv.FormatInt(pkt.Int, 10))
	case respio.RespString:
		if pkt.IsNil() {
			return p.nilC("(nil)")
		}
		return p.strC(strconv.Quote(string(pkt.Data)))
	case respio.RespArray:
		return p.nilC("(nil)")
	default:
		return pkt.String()
	}
}

func (p *printer) writeRaw(b *strings.Builder, pkt *respio.RespPacket) {
	switch {
	case pkt.Type == respio.RespArray && !pkt.IsNil():
		for i, item := range pkt.Array {
			if i > 0 {
				b.WriteByte('\n')
			}
			p.writeRaw(b, item)
		}
	case pkt.IsNil():
	default:
		b.WriteString(pkt.Text())
	}
}
