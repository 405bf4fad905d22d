package backendtest

import "github.com/sourceplane/prestoflow/internal/model"

func bound(v float64) *float64 { return &v }

func options(values ...string) []model.ParamOption {
	opts := make([]model.ParamOption, 0, len(values))
	for _, v := range values {
		opts = append(opts, model.ParamOption{Value: v, Label: v})
	}
	return opts
}

// Units returns a registry shaped like the production backend's
func Units() []model.Unit {
	coord := model.ParamSpec{Type: model.ParamSelect, Options: options("illumina", "solexa", "sra", "454", "presto"), Default: "illumina"}

	return []model.Unit{
		{
			ID: "filter_quality", Label: "FilterSeq: quality", Group: model.GroupBulk, Requires: []string{"R1"},
			ParamsSchema: map[string]model.ParamSpec{
				"qmin": {Type: model.ParamInt, Default: float64(20), Min: bound(0), Max: bound(40)},
			},
		},
		{
			ID: "filter_length", Label: "FilterSeq: length", Group: model.GroupBulk, Requires: []string{"R1"},
			ParamsSchema: map[string]model.ParamSpec{
				"min_len": {Type: model.ParamInt, Default: float64(100), Min: bound(1)},
				"inner":   {Type: model.ParamSelect, Options: options("false", "true"), Default: "false"},
			},
		},
		{
			ID: "mask_primers", Label: "MaskPrimers", Group: model.GroupBulk, Requires: []string{"R1"},
			ParamsSchema: map[string]model.ParamSpec{
				"variant":         {Type: model.ParamSelect, Options: options("align", "score", "extract"), Default: "align"},
				"mode":            {Type: model.ParamSelect, Options: options("cut", "mask", "trim", "tag"), Default: "mask"},
				"v_primers_fname": {Type: model.ParamFile, Accept: ".fa,.fasta"},
				"c_primers_fname": {Type: model.ParamFile, Accept: ".fa,.fasta", Optional: true},
				"start":           {Type: model.ParamInt, Default: float64(0), Min: bound(0)},
				"length":          {Type: model.ParamInt, Default: float64(30), Min: bound(1)},
			},
		},
		{
			ID: "pairseq", Label: "PairSeq", Group: model.GroupBulk, Requires: []string{"R1", "R2"},
			ParamsSchema: map[string]model.ParamSpec{"coord": coord},
		},
		{
			ID: "assemble_align", Label: "AssemblePairs: align", Group: model.GroupBulk, Requires: []string{"PAIR1", "PAIR2"},
			ParamsSchema: map[string]model.ParamSpec{
				"coord":  coord,
				"minlen": {Type: model.ParamInt, Default: float64(8)},
			},
		},
		{
			ID: "collapse_seq", Label: "CollapseSeq (deduplicate)", Group: model.GroupBulk, Requires: []string{},
			ParamsSchema: map[string]model.ParamSpec{
				"outname": {Type: model.ParamText, Default: "COLLAPSE"},
			},
		},
		{
			ID: "sc_merge_samples", Label: "Merge samples", Group: model.GroupSC, Requires: []string{},
			ParamsSchema: map[string]model.ParamSpec{
				"sample_field": {Type: model.ParamText, Default: "sample_id"},
			},
		},
		{
			ID: "sc_remove_multi_heavy", Label: "Remove cells with multiple heavy chains", Group: model.GroupSC, Requires: []string{},
			ParamsSchema: map[string]model.ParamSpec{
				"mode": {Type: model.ParamSelect, Options: options("merge", "per_file"), Default: "merge"},
			},
		},
		{
			ID: "sc_remove_no_heavy", Label: "Remove cells without heavy chains", Group: model.GroupSC, Requires: []string{},
			ParamsSchema: map[string]model.ParamSpec{
				"heavy_value": {Type: model.ParamText, Default: "IGH"},
			},
		},
	}
}
