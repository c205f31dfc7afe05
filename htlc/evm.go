package htlc

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/core/vm"
)

// program is a tiny EVM assembler: opcodes, pushes and named jump targets.
// Jump targets are pushed as 2 byte immediates and patched on assemble. The
// first invalid instruction is kept and returned by assemble, as
// txscript.ScriptBuilder does.
type program struct {
	code   []byte
	labels map[string]int
	fixups map[int]string
	err    error
}

func newProgram() *program {
	return &program{
		labels: make(map[string]int),
		fixups: make(map[int]string),
	}
}

func (p *program) op(ops ...vm.OpCode) *program {
	for _, o := range ops {
		p.code = append(p.code, byte(o))
	}
	return p
}

// push emits the PUSHn that holds data verbatim.
func (p *program) push(data []byte) *program {
	if len(data) == 0 || len(data) > 32 {
		if p.err == nil {
			p.err = fmt.Errorf("invalid push of %d bytes", len(data))
		}
		return p
	}
	p.code = append(p.code, byte(vm.PUSH1)+byte(len(data)-1))
	p.code = append(p.code, data...)
	return p
}

func (p *program) pushByte(b byte) *program {
	return p.push([]byte{b})
}

func (p *program) pushUint16(v uint16) *program {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	return p.push(buf[:])
}

func (p *program) pushUint64(v uint64) *program {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return p.push(buf[:])
}

func (p *program) pushLabel(name string) *program {
	p.code = append(p.code, byte(vm.PUSH2))
	p.fixups[len(p.code)] = name
	p.code = append(p.code, 0, 0)
	return p
}

// jumpIf jumps to name when the top of the stack is non-zero.
func (p *program) jumpIf(name string) *program {
	return p.pushLabel(name).op(vm.JUMPI)
}

func (p *program) label(name string) *program {
	p.labels[name] = len(p.code)
	return p.op(vm.JUMPDEST)
}

func (p *program) assemble() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	out := make([]byte, len(p.code))
	copy(out, p.code)
	for at, name := range p.fixups {
		target, ok := p.labels[name]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", name)
		}
		if target > 0xffff {
			return nil, fmt.Errorf("label %q out of range", name)
		}
		binary.BigEndian.PutUint16(out[at:], uint16(target))
	}
	return out, nil
}

// deployHeaderLength is the size of the code produced by withDeployHeader
// before the runtime.
const deployHeaderLength = 26

// withDeployHeader prefixes runtime with init code that stores the expiry,
// deployment time plus lock seconds, in slot 0 and returns runtime as the
// contract code.
func withDeployHeader(lock uint64, runtime []byte) ([]byte, error) {
	if len(runtime) > 0xffff {
		return nil, fmt.Errorf("runtime of %d bytes too large", len(runtime))
	}
	header := newProgram().
		pushUint64(lock).op(vm.TIMESTAMP, vm.ADD).pushByte(0).op(vm.SSTORE).
		pushUint16(uint16(len(runtime))).
		op(vm.DUP1).
		pushByte(deployHeaderLength).
		pushByte(0).
		op(vm.CODECOPY).
		pushByte(0).
		op(vm.RETURN)
	code, err := header.assemble()
	if err != nil {
		return nil, err
	}
	if len(code) != deployHeaderLength {
		return nil, fmt.Errorf("deploy header is %d bytes, want %d", len(code), deployHeaderLength)
	}
	return append(code, runtime...), nil
}
