// Package cil reads and rewrites ECMA-335 CLI modules (.NET assemblies).
//
// It exposes the part of the metadata that attribute stripping needs: every
// TypeDef with its fields, properties, methods and nested types, and the
// custom attributes attached to each of them. Attributes can be removed from
// those lists and the module written back; all other metadata is carried over
// byte for byte.
//
// # Usage
//
//	mod, err := cil.Load(data, cil.WithResolver(resolver), cil.WithPath(path))
//	if err != nil {
//		return err
//	}
//	for _, t := range mod.Types {
//		t.Attributes = t.Attributes[:0]
//	}
//	out, err := mod.Write()
//
// # Resolution
//
// Attribute.TypeName resolves the attribute type the first time it is called.
// References into other assemblies go through the AssemblyResolver given to
// Load, and type forwarders (ExportedType rows) are followed. A missing
// assembly or type yields a *ResolutionError.
//
// # Limitations
//
//   - Only the compressed (#~) table stream is supported; edit-and-continue
//     deltas and portable PDB metadata are rejected with ErrUnsupported.
//   - Rewriting invalidates strong-name signatures (see Module.StrongNamed).
package cil
