package sipmess

import (
	"fmt"
	"strconv"
	"strings"
)

type SIPCseq struct {
	Method SIPMethod
	Seq    int
	// Extension holds the method token when Method is Extension.
	Extension string
}

func ParseSipCseq(cseq string) (SIPCseq, error) {
	sipCseq := SIPCseq{Seq: -1}

	fields := strings.Fields(cseq)
	if len(fields) != 2 {
		return sipCseq, fmt.Errorf("missing sequence number or method in %q", cseq)
	}

	meth, err := ParseMethod(fields[1])
	if err != nil {
		return sipCseq, fmt.Errorf("invalid method in %q: %w", cseq, err)
	}
	sipCseq.Method = meth
	if meth == Extension {
		sipCseq.Extension = fields[1]
	}

	seq, err := strconv.Atoi(fields[0])
	if err != nil || seq < 0 {
		return sipCseq, fmt.Errorf("invalid sequence number in %q", cseq)
	}
	sipCseq.Seq = seq

	return sipCseq, nil
}

func (cseq SIPCseq) String() string {
	if cseq.Method == Extension {
		return strconv.Itoa(cseq.Seq) + " " + cseq.Extension
	}
	return strconv.Itoa(cseq.Seq) + " " + cseq.Method.String()
}
