package hastatus

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

//go:embed default.cue
var defaultCUE []byte

// LoadPolicyFile reads a CUE policy document from disk.
func LoadPolicyFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return LoadPolicy(data, path)
}

// LoadPolicy compiles src, unifies it with the embedded schema, and converts
// the three tables into a Policy. Every machine must be present.
func LoadPolicy(src []byte, filename string) (*Policy, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile policy schema: %w", err)
	}

	doc := ctx.CompileBytes(src, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("compile policy: %w", err)
	}

	v := schema.Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}

	p := &Policy{}
	var err error
	if p.Migration, err = decodeTable(v, MachineMigration, ParseMigrationStatus); err != nil {
		return nil, err
	}
	if p.GC, err = decodeTable(v, MachineGC, ParseGCState); err != nil {
		return nil, err
	}
	if p.Restore, err = decodeTable(v, MachineRestore, ParseRestoreStatus); err != nil {
		return nil, err
	}
	return p, nil
}

// defaultPolicyFromCUE decodes the embedded default.cue.
func defaultPolicyFromCUE() (*Policy, error) {
	return LoadPolicy(defaultCUE, "default.cue")
}

func decodeTable[S comparable](v cue.Value, machine Machine, parse func(string) (S, error)) (map[S][]S, error) {
	tableVal := v.LookupPath(cue.ParsePath(string(machine)))
	if !tableVal.Exists() {
		return nil, fmt.Errorf("policy: %s table is required", machine)
	}

	iter, err := tableVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("policy: %s: %w", machine, err)
	}

	table := make(map[S][]S)
	for iter.Next() {
		from, err := parse(iter.Label())
		if err != nil {
			return nil, fmt.Errorf("policy: %s: %w", machine, err)
		}

		list, err := iter.Value().List()
		if err != nil {
			return nil, fmt.Errorf("policy: %s.%s: %w", machine, iter.Label(), err)
		}

		next := []S{}
		for list.Next() {
			name, err := list.Value().String()
			if err != nil {
				return nil, fmt.Errorf("policy: %s.%s: %w", machine, iter.Label(), err)
			}
			to, err := parse(name)
			if err != nil {
				return nil, fmt.Errorf("policy: %s.%s: %w", machine, iter.Label(), err)
			}
			next = append(next, to)
		}
		table[from] = next
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("policy: %s table is empty", machine)
	}
	return table, nil
}
