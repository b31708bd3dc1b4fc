// Command lsmkv-cli is a line-oriented REPL for poking at an lsmkv
// database, modeled on the teacher's ldb tool.
//
// Usage:
//
//	lsmkv-cli --db=<path>
//
// Once started, type "help" for the list of commands.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lsmkv/lsmkv"
	"github.com/lsmkv/lsmkv/internal/ikey"
)

var (
	dbPath       = flag.String("db", "", "Path to the database (required)")
	hexOutput    = flag.Bool("hex", false, "Print keys and values in hex")
	serializable = flag.Bool("serializable", false, "Open with serializable transaction checking")
	enableWAL    = flag.Bool("wal", true, "Enable the write-ahead log")
)

func main() {
	flag.Parse()
	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --db flag is required")
		os.Exit(1)
	}

	opts := lsmkv.DefaultOptions()
	opts.Serializable = *serializable
	opts.EnableWAL = *enableWAL

	engine, err := lsmkv.Open(*dbPath, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	r := &repl{engine: engine, hex: *hexOutput, out: os.Stdout}
	r.run(os.Stdin)
}

// repl holds the small amount of state that survives across commands: a
// pending transaction (if one was started with "begin"), and the hex
// display toggle.
type repl struct {
	engine *lsmkv.Engine
	txn    *lsmkv.Transaction
	hex    bool
	out    io.Writer
}

func (r *repl) run(in io.Reader) {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(r.out, "lsmkv-cli - type 'help' for commands, 'quit' to exit")
	r.prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			if r.dispatch(line) {
				return
			}
		}
		r.prompt()
	}
}

func (r *repl) prompt() {
	if r.txn != nil {
		fmt.Fprint(r.out, "lsmkv (txn)> ")
	} else {
		fmt.Fprint(r.out, "lsmkv> ")
	}
}

// dispatch runs one command line, returning true if the REPL should exit.
func (r *repl) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	var err error
	switch cmd {
	case "put":
		err = r.cmdPut(args)
	case "get":
		err = r.cmdGet(args)
	case "delete", "del":
		err = r.cmdDelete(args)
	case "scan":
		err = r.cmdScan(args)
	case "dump":
		err = r.cmdDump()
	case "flush":
		err = r.engine.ForceFlush()
	case "compact":
		err = r.engine.ForceFullCompaction()
	case "begin":
		err = r.cmdBegin()
	case "commit":
		err = r.cmdCommit()
	case "rollback", "abort":
		err = r.cmdRollback()
	case "hex":
		r.cmdHex(args)
	case "help":
		printHelp(r.out)
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(r.out, "unknown command %q, type 'help' for the list\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	return false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  put <key> <value>     write a key")
	fmt.Fprintln(w, "  get <key>             read a key")
	fmt.Fprintln(w, "  delete <key>          tombstone a key")
	fmt.Fprintln(w, "  scan [from] [to]      iterate [from, to), bounds optional")
	fmt.Fprintln(w, "  dump                  iterate the entire keyspace")
	fmt.Fprintln(w, "  flush                 force the memtable queue to SSTs")
	fmt.Fprintln(w, "  compact               force a full compaction")
	fmt.Fprintln(w, "  begin                 start a transaction")
	fmt.Fprintln(w, "  commit                commit the open transaction")
	fmt.Fprintln(w, "  rollback              abandon the open transaction")
	fmt.Fprintln(w, "  hex <on|off>          toggle hex display of keys/values")
	fmt.Fprintln(w, "  quit                  exit")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "a key or value prefixed with 0x is parsed as hex")
}

func (r *repl) cmdPut(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: put <key> <value>")
	}
	key, value := parseInput(args[0]), parseInput(args[1])
	if r.txn != nil {
		return r.txn.Put(key, value)
	}
	if err := r.engine.Put(key, value); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "OK")
	return nil
}

func (r *repl) cmdGet(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: get <key>")
	}
	key := parseInput(args[0])

	var value []byte
	var ok bool
	var err error
	if r.txn != nil {
		value, ok, err = r.txn.Get(key)
	} else {
		value, ok, err = r.engine.Get(key)
	}
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(r.out, "(not found)")
		return nil
	}
	fmt.Fprintln(r.out, r.format(value))
	return nil
}

func (r *repl) cmdDelete(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: delete <key>")
	}
	key := parseInput(args[0])
	if r.txn != nil {
		return r.txn.Delete(key)
	}
	if err := r.engine.Delete(key); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "OK")
	return nil
}

func (r *repl) cmdScan(args []string) error {
	lower := ikey.UnboundedBound()
	upper := ikey.UnboundedBound()
	if len(args) >= 1 && args[0] != "-" {
		lower = ikey.IncludedBound(parseInput(args[0]))
	}
	if len(args) >= 2 && args[1] != "-" {
		upper = ikey.ExcludedBound(parseInput(args[1]))
	}
	return r.scanAndPrint(lower, upper)
}

func (r *repl) cmdDump() error {
	return r.scanAndPrint(ikey.UnboundedBound(), ikey.UnboundedBound())
}

func (r *repl) scanAndPrint(lower, upper ikey.Bound) error {
	count := 0
	if r.txn != nil {
		it, err := r.txn.Scan(lower, upper)
		if err != nil {
			return err
		}
		for it.Valid() {
			fmt.Fprintf(r.out, "%s => %s\n", r.format(it.Key().UserKey), r.format(it.Value()))
			count++
			if err := it.Next(); err != nil {
				return err
			}
		}
	} else {
		it, err := r.engine.Scan(lower, upper)
		if err != nil {
			return err
		}
		for it.Valid() {
			fmt.Fprintf(r.out, "%s => %s\n", r.format(it.Key().UserKey), r.format(it.Value()))
			count++
			if err := it.Next(); err != nil {
				return err
			}
		}
	}
	fmt.Fprintf(r.out, "\n(%d entries)\n", count)
	return nil
}

func (r *repl) cmdBegin() error {
	if r.txn != nil {
		return fmt.Errorf("a transaction is already open, commit or rollback first")
	}
	r.txn = r.engine.NewTxn()
	fmt.Fprintf(r.out, "started at read_ts=%d\n", r.txn.ReadTS())
	return nil
}

func (r *repl) cmdCommit() error {
	if r.txn == nil {
		return fmt.Errorf("no transaction is open")
	}
	txn := r.txn
	r.txn = nil
	if err := txn.Commit(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "OK")
	return nil
}

func (r *repl) cmdRollback() error {
	if r.txn == nil {
		return fmt.Errorf("no transaction is open")
	}
	r.txn.Close()
	r.txn = nil
	fmt.Fprintln(r.out, "OK")
	return nil
}

func (r *repl) cmdHex(args []string) {
	if len(args) < 1 {
		fmt.Fprintf(r.out, "hex display is %s\n", onOff(r.hex))
		return
	}
	r.hex = args[0] == "on"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// format renders data the way the teacher's ldb does: hex when forced, or
// when it contains bytes that wouldn't print cleanly.
func (r *repl) format(data []byte) string {
	if r.hex {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

// parseInput accepts a 0x-prefixed hex literal or a plain string.
func parseInput(s string) []byte {
	if strings.HasPrefix(s, "0x") {
		if decoded, err := hex.DecodeString(s[2:]); err == nil {
			return decoded
		}
	}
	return []byte(s)
}
