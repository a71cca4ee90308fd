// Package output renders replies for the REPL, pipes them to shell
// commands, and exports them to files.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"os/exec"
	"strings"

	"github.com/cosmez/rediskit/internal/serializer"
	"github.com/cosmez/rediskit/resp"
	"github.com/fatih/color"
)

// ErrStopped is returned by PrintReplies when the user declines to see
// more items.
var ErrStopped = errors.New("listing stopped")

// PrintOpts configures how a reply is printed.
type PrintOpts struct {
	Color      bool
	Serializer serializer.Serializer // decodes bulk payloads when set
	Encoder    *resp.Encoder         // text encoding of bulk payloads; nil means UTF-8
	Padding    string
	TypeHint   string // "hash" or "stream" switch to field=value layout
	Newline    bool
}

var (
	colorString  = color.New(color.FgHiBlue)
	colorInteger = color.New(color.FgHiGreen)
	colorError   = color.New(color.FgRed, color.Bold)
	colorNull    = color.New(color.FgHiBlack)
	colorPrompt  = color.New(color.FgHiYellow)
	colorIndex   = color.New(color.FgHiBlack)
)

func paint(w io.Writer, c *color.Color, on bool, s string) {
	if on && c != nil {
		c.Fprint(w, s)
		return
	}
	fmt.Fprint(w, s)
}

func digitWidth(n int) int {
	w := 1
	for n >= 10 {
		w++
		n /= 10
	}
	return w
}

// text returns the printable payload of a bulk or status reply.
func (o PrintOpts) text(b []byte) string {
	if o.Serializer != nil {
		if out, err := o.Serializer.Deserialize(b); err == nil {
			b = out
		}
	}
	s, err := o.Encoder.Decode(b)
	if err != nil {
		return string(b)
	}
	return s
}

// PrintError writes err the way error replies are shown.
func PrintError(w io.Writer, err error, useColor bool) {
	var se *resp.ServerError
	msg := err.Error()
	if errors.As(err, &se) {
		msg = "(error) " + msg
	}
	paint(w, colorError, useColor, msg)
	fmt.Fprintln(w)
}

// PrintReply writes r in redis-cli style: strings quoted, integers tagged,
// arrays numbered with nested arrays indented.
func PrintReply(w io.Writer, r resp.Reply, opts PrintOpts) {
	if r == nil {
		return
	}
	arr, ok := r.(resp.Array)
	if !ok {
		printScalar(w, r, opts)
		return
	}

	if len(arr.Values) == 0 {
		paint(w, colorNull, opts.Color, "(empty array)")
		if opts.Newline {
			fmt.Fprintln(w)
		}
		return
	}
	if opts.TypeHint == "hash" || opts.TypeHint == "stream" {
		printPairs(w, arr, opts)
		return
	}

	digits := digitWidth(len(arr.Values))
	child := opts
	child.Padding = opts.Padding + strings.Repeat(" ", digits+2)
	child.Newline = false
	child.TypeHint = ""
	for i, v := range arr.Values {
		// the first element of a nested array continues the parent's line
		if i > 0 {
			fmt.Fprint(w, opts.Padding)
		}
		paint(w, colorIndex, opts.Color, fmt.Sprintf("%*d) ", digits, i+1))
		PrintReply(w, v, child)
		if nested, ok := v.(resp.Array); !ok || len(nested.Values) == 0 {
			fmt.Fprintln(w)
		}
	}
}

func printPairs(w io.Writer, arr resp.Array, opts PrintOpts) {
	marker := "#"
	if opts.TypeHint == "stream" {
		marker = "@"
	}
	if opts.Padding != "" {
		fmt.Fprintln(w)
	}
	child := opts
	child.Padding = opts.Padding + "  "
	child.Newline = false
	child.TypeHint = ""
	for i := 0; i < len(arr.Values); i += 2 {
		fmt.Fprint(w, opts.Padding+marker)
		PrintReply(w, arr.Values[i], child)
		if i+1 < len(arr.Values) {
			fmt.Fprint(w, "=")
			PrintReply(w, arr.Values[i+1], child)
		}
		fmt.Fprintln(w)
	}
}

func printScalar(w io.Writer, r resp.Reply, opts PrintOpts) {
	var (
		out string
		c   *color.Color
	)
	switch v := r.(type) {
	case resp.Status:
		out, c = v.Value, colorString
	case resp.Bulk:
		out, c = `"`+opts.text(v.Value)+`"`, colorString
	case resp.Integer:
		out, c = "(integer) "+v.Text(), colorInteger
	case resp.Nil:
		out, c = "(nil)", colorNull
	case resp.Error:
		out, c = "(error) "+v.Text(), colorError
	default:
		out = r.Text()
	}
	paint(w, c, opts.Color, out)
	if opts.Newline {
		fmt.Fprintln(w)
	}
}

// PrintReplies prints the items of an iterator, asking on in whether to
// continue after every warningAt items. It returns the iterator's error, or
// ErrStopped when the user says no.
func PrintReplies(w io.Writer, in io.Reader, items iter.Seq2[resp.Reply, error], opts PrintOpts, warningAt int) error {
	i := 0
	for r, err := range items {
		if err != nil {
			return err
		}
		i++
		switch opts.TypeHint {
		case "stream":
			if entry, ok := r.(resp.Array); ok && len(entry.Values) >= 2 {
				id := opts
				id.TypeHint, id.Newline = "", false
				PrintReply(w, entry.Values[0], id)
				fields := opts
				fields.Padding, fields.Newline = " ", false
				PrintReply(w, entry.Values[1], fields)
			}
		case "hash":
			pair := opts
			pair.Newline = false
			PrintReply(w, r, pair)
		default:
			paint(w, colorIndex, opts.Color, fmt.Sprintf("%d) ", i))
			PrintReply(w, r, opts)
		}

		if warningAt > 0 && i%warningAt == 0 && !Confirm(w, in, "Continue Listing? ", opts.Color) {
			return ErrStopped
		}
	}
	return nil
}

// Confirm asks a yes/no question and reads the answer one byte at a time so
// nothing past the newline is taken from the REPL's input.
func Confirm(w io.Writer, in io.Reader, question string, useColor bool) bool {
	fmt.Fprint(w, question)
	paint(w, colorPrompt, useColor, "(Y/N) ")

	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				break
			}
			line = append(line, buf[0])
		}
		if err != nil {
			break
		}
	}
	ans := strings.TrimSpace(string(line))
	return ans != "" && (ans[0] == 'Y' || ans[0] == 'y')
}

// Pipe runs shellCmd with the raw form of r on its stdin.
func Pipe(w io.Writer, r resp.Reply, shellCmd string, opts PrintOpts) error {
	args := strings.Fields(shellCmd)
	if len(args) == 0 {
		return nil
	}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = w
	cmd.Stderr = w

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	writeRaw(stdin, r, opts)
	stdin.Close()
	return cmd.Wait()
}

func writeRaw(w io.Writer, r resp.Reply, opts PrintOpts) {
	switch v := r.(type) {
	case nil:
	case resp.Array:
		for _, e := range v.Values {
			writeRaw(w, e, opts)
		}
	case resp.Bulk:
		fmt.Fprintln(w, opts.text(v.Value))
	default:
		fmt.Fprintln(w, v.Text())
	}
}

// Export writes r and then every item of items to filename, one value per
// line. With the "hash" hint pairs are written as field=value.
func Export(filename string, r resp.Reply, items iter.Seq2[resp.Reply, error], typeHint string, opts PrintOpts) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if r != nil {
		writeExport(bw, r, typeHint, opts)
	}
	if items != nil {
		for item, ierr := range items {
			if ierr != nil {
				return ierr
			}
			writeExport(bw, item, typeHint, opts)
		}
	}
	return bw.Flush()
}

func writeExport(w io.Writer, r resp.Reply, typeHint string, opts PrintOpts) {
	arr, ok := r.(resp.Array)
	if !ok {
		switch v := r.(type) {
		case resp.Nil:
			fmt.Fprint(w, "(null)")
		case resp.Bulk:
			fmt.Fprint(w, opts.text(v.Value))
		default:
			fmt.Fprint(w, v.Text())
		}
		return
	}
	for i := 0; i < len(arr.Values); i++ {
		writeExport(w, arr.Values[i], typeHint, opts)
		if typeHint == "hash" && i+1 < len(arr.Values) {
			i++
			fmt.Fprint(w, "=")
			writeExport(w, arr.Values[i], typeHint, opts)
		}
		fmt.Fprintln(w)
	}
}
