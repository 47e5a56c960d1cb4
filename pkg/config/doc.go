// Package config loads configuration models, edit scenarios and runtime
// settings for the configurator.
//
// # Overview
//
// A model is a set of types with attributes, relations and directives. It
// can be written in YAML, CUE or HCL; every format is decoded into the same
// document structures, checked with struct validation and translated into
// model types, so the three sources are interchangeable and may be mixed.
//
// # Components
//
// Loader: Resolves files and directories to a model.Store. Files are routed
// by extension; a directory holding .cue files is loaded as one CUE package.
//
// CUEParser, YAMLParser, HCLParser: Format-specific decoders. The CUE parser
// additionally unifies sources with the built-in #Model schema.
//
// SchemaRegistry: CUE schemas for models and scenarios, extensible with
// custom definitions.
//
// ScenarioLoader: Reads YAML edit scripts replayed by the solver.
//
// Settings: Solver limits, Context Definition sources, policies and
// telemetry, read with viper from cfgr.yaml and CFGR_* variables.
//
// # Usage Example
//
//	loader := config.NewLoader(settings.BuildOptions())
//	store, report, err := loader.Load(ctx, "models/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Printf("loaded %d types from %v", report.Types, report.SourceFiles)
//
// # Model Structure
//
//	types:
//	  - name: Policy
//	    attributes:
//	      - name: Tier
//	        kind: integer
//	        domain: {values: [1, 2, 3]}
//	        default: 1
//	    relations:
//	      - name: vehicles
//	        target: Vehicle
//	        min: 1
//	        max: 3
//	        aggregates:
//	          - {name: maxYear, expr: max(Year)}
//	    directives:
//	      - kind: constraint
//	        condition: Tier == 3
//	        implication: vehicles >= 2
//
// # Error Handling
//
// Decoding and validation problems are reported as ValidationErrors with file
// and line when known, wrapped in a model-class engine error. A rejected model
// never yields a store.
package config
