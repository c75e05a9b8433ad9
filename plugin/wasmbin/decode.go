package wasmbin

import "fmt"

// Parse decodes the sections of data the plugin ABI needs. Table, global,
// element, start, data-count, tag and custom sections are skipped; data
// segments are not decoded.
func Parse(data []byte) (*Module, error) {
	r := newReader(data, 0)

	magic, err := r.u32le()
	if err != nil {
		return nil, r.fail("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.u32le()
	if err != nil {
		return nil, r.fail("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	codeCount := -1
	for !r.done() {
		id, err := r.byte()
		if err != nil {
			return nil, r.fail("section header", err)
		}
		size, err := r.u32()
		if err != nil {
			return nil, r.fail("section size", err)
		}
		start := r.pos
		body, err := r.bytes(int(size))
		if err != nil {
			return nil, r.fail("section data", err)
		}
		sr := newReader(body, start)

		switch id {
		case SectionType:
			err = parseTypes(sr, m)
		case SectionImport:
			err = parseImports(sr, m)
		case SectionFunction:
			err = parseFunctions(sr, m)
		case SectionMemory:
			err = parseMemories(sr, m)
		case SectionExport:
			err = parseExports(sr, m)
		case SectionCode:
			var n uint32
			n, err = sr.u32()
			codeCount = int(n)
		case SectionCustom, SectionTable, SectionGlobal, SectionStart,
			SectionElement, SectionData, SectionDataCount, SectionTag:
		default:
			return nil, r.fail("section header", fmt.Errorf("unknown section ID: 0x%02x", id))
		}
		if err != nil {
			return nil, sr.fail(sectionName(id), err)
		}
	}

	if codeCount >= 0 && codeCount != len(m.Funcs) {
		return nil, fmt.Errorf("wasm: %d function declarations but %d bodies", len(m.Funcs), codeCount)
	}
	return m, nil
}

func sectionName(id byte) string {
	switch id {
	case SectionType:
		return "type section"
	case SectionImport:
		return "import section"
	case SectionFunction:
		return "function section"
	case SectionMemory:
		return "memory section"
	case SectionExport:
		return "export section"
	case SectionCode:
		return "code section"
	default:
		return fmt.Sprintf("section %d", id)
	}
}

func parseTypes(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := range m.Types {
		form, err := r.byte()
		if err != nil {
			return err
		}
		if form != funcTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02x", i, form)
		}
		if m.Types[i].Params, err = r.valTypes(); err != nil {
			return err
		}
		if m.Types[i].Results, err = r.valTypes(); err != nil {
			return err
		}
	}
	return nil
}

func parseImports(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := range m.Imports {
		imp := &m.Imports[i]
		if imp.Module, err = r.name(); err != nil {
			return err
		}
		if imp.Name, err = r.name(); err != nil {
			return err
		}
		if imp.Kind, err = r.byte(); err != nil {
			return err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.u32()
		case KindTable:
			if _, err = r.byte(); err == nil {
				_, err = r.limits()
			}
		case KindMemory:
			var l Limits
			if l, err = r.limits(); err == nil {
				m.Memories = append(m.Memories, l)
			}
		case KindGlobal:
			if _, err = r.byte(); err == nil {
				_, err = r.byte()
			}
		default:
			return fmt.Errorf("unknown import kind: %d", imp.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseFunctions(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := range m.Funcs {
		if m.Funcs[i], err = r.u32(); err != nil {
			return err
		}
	}
	return nil
}

func parseMemories(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		l, err := r.limits()
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, l)
	}
	return nil
}

func parseExports(r *reader, m *Module) error {
	count, err := r.u32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	for i := range m.Exports {
		e := &m.Exports[i]
		if e.Name, err = r.name(); err != nil {
			return err
		}
		if e.Kind, err = r.byte(); err != nil {
			return err
		}
		if e.Kind > KindTag {
			return fmt.Errorf("invalid export kind: 0x%02x", e.Kind)
		}
		if e.Index, err = r.u32(); err != nil {
			return err
		}
	}
	return nil
}
