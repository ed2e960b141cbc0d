package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/PoseRank/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/PoseRank/pkg/errors"
	"github.com/turtacn/PoseRank/pkg/types/pose"
)

// Manifest is a batch request read from disk. Params holds run-level
// parameters; each pose record is passed through to the output with the
// ranking fields merged in.
type Manifest struct {
	BatchID string                   `json:"batch_id" yaml:"batch_id"`
	Params  map[string]interface{}   `json:"params" yaml:"params"`
	Poses   []map[string]interface{} `json:"poses" yaml:"poses"`
}

// LoadManifest reads a manifest from path. Files ending in .json are parsed
// as JSON and everything else as YAML.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "read manifest").WithDetail(path)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	m, err := ParseManifest(data, format)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ParseManifest decodes a manifest. The document is either a mapping with
// batch_id, params and poses or a bare list of pose records.
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var doc interface{}
	var err error
	if format == "json" {
		err = json.Unmarshal(data, &doc)
	} else {
		err = yaml.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "parse manifest")
	}

	m := &Manifest{Params: map[string]interface{}{}}
	switch v := doc.(type) {
	case []interface{}:
		m.Poses, err = toRecords(v)
	case map[string]interface{}:
		if id, ok := v["batch_id"]; ok && id != nil {
			m.BatchID = fmt.Sprint(id)
		}
		if p, ok := v["params"]; ok && p != nil {
			params, isMap := p.(map[string]interface{})
			if !isMap {
				return nil, errors.New(errors.ErrCodeInputValidation, "manifest params must be a mapping")
			}
			m.Params = params
		}
		if p, ok := v["poses"]; ok && p != nil {
			list, isList := p.([]interface{})
			if !isList {
				return nil, errors.New(errors.ErrCodeInputValidation, "manifest poses must be a list")
			}
			m.Poses, err = toRecords(list)
		}
	case nil:
	default:
		return nil, errors.Newf(errors.ErrCodeInputValidation, "unsupported manifest document of type %T", doc)
	}
	if err != nil {
		return nil, err
	}
	if m.Poses == nil {
		m.Poses = []map[string]interface{}{}
	}
	return m, nil
}

func toRecords(list []interface{}) ([]map[string]interface{}, error) {
	out := make([]map[string]interface{}, len(list))
	for i, item := range list {
		rec, ok := item.(map[string]interface{})
		if !ok {
			return nil, errors.Newf(errors.ErrCodeInputValidation, "pose record %d is not a mapping", i)
		}
		out[i] = rec
	}
	return out, nil
}

// unwrapParam returns x for parameters supplied as {"value": x}.
func unwrapParam(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}

// ApplyParams overlays run-level parameters onto cfg. Unknown keys are
// logged and ignored.
func ApplyParams(cfg *pose.BatchConfig, params map[string]interface{}, logger logging.Logger) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		raw := unwrapParam(params[key])
		if raw == nil {
			continue
		}
		var err error
		switch key {
		case "energy_method":
			cfg.EnergyMethod = pose.Method(strings.ToLower(strings.TrimSpace(fmt.Sprint(raw))))
		case "device":
			cfg.Device = strings.TrimSpace(fmt.Sprint(raw))
		case "force_cpu":
			cfg.ForceCPU, err = toBool(raw)
		case "enable_device_fallback":
			cfg.EnableDeviceFallback, err = toBool(raw)
		case "so3lr_use_chopping", "use_chopping":
			cfg.UseChopping, err = toBool(raw)
		case "so3lr_optimize":
			var b bool
			if b, err = toBool(raw); err == nil {
				cfg.OptimizeComplex, cfg.OptimizeLigand = b, b
			}
		case "optimize_complex":
			cfg.OptimizeComplex, err = toBool(raw)
		case "optimize_ligand":
			cfg.OptimizeLigand, err = toBool(raw)
		case "so3lr_lr_cutoff", "lr_cutoff":
			cfg.LRCutoff, err = toFloat(raw)
		case "distance_cutoff":
			cfg.DistanceCutoff, err = toFloat(raw)
		case "s3_bucket":
			cfg.Upload.Bucket = strings.TrimSpace(fmt.Sprint(raw))
		case "s3_output_folder":
			cfg.Upload.Folder = strings.Trim(strings.TrimSpace(fmt.Sprint(raw)), "/")
		case "pose_timeout":
			cfg.PoseTimeout, err = toDuration(raw)
		default:
			logger.Warn("ignoring unknown manifest parameter", logging.String("param", key))
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInputValidation, "invalid manifest parameter").WithDetail(key)
		}
	}
	return nil
}

// PoseFromRecord builds a pose from a manifest record. Missing fields are
// left empty for pose validation to report.
func PoseFromRecord(rec map[string]interface{}) (*pose.Pose, error) {
	p := &pose.Pose{
		ID:            stringField(rec, "pose_id"),
		StructureCIF:  stringField(rec, "structure_cif"),
		ProteinPDB:    stringField(rec, "protein_pdb"),
		LigandSDF:     stringField(rec, "ligand_sdf"),
		StructurePath: stringField(rec, "structure_path"),
	}
	if md, ok := rec["metadata"].(map[string]interface{}); ok {
		p.Metadata = md
	}

	o := &pose.Overrides{}
	set := false
	if v, ok := rec["energy_method"]; ok && v != nil {
		m := pose.Method(strings.ToLower(strings.TrimSpace(fmt.Sprint(v))))
		o.EnergyMethod, set = &m, true
	}
	if v, ok := rec["device"]; ok && v != nil {
		d := strings.TrimSpace(fmt.Sprint(v))
		o.Device, set = &d, true
	}
	for key, dst := range map[string]**bool{
		"force_cpu":        &o.ForceCPU,
		"use_chopping":     &o.UseChopping,
		"optimize_complex": &o.OptimizeComplex,
		"optimize_ligand":  &o.OptimizeLigand,
	} {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		b, err := toBool(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "invalid pose field").WithDetail(key)
		}
		*dst, set = &b, true
	}
	for key, dst := range map[string]**float64{
		"distance_cutoff": &o.DistanceCutoff,
		"lr_cutoff":       &o.LRCutoff,
	} {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInputValidation, "invalid pose field").WithDetail(key)
		}
		*dst, set = &f, true
	}
	if set {
		p.Overrides = o
	}
	return p, nil
}

// BuildPoses converts every record of the manifest. A record that cannot be
// decoded still yields a pose carrying its ID and the decode error, so the
// batch reports it as a failed result in its slot.
func (m *Manifest) BuildPoses() []*pose.Pose {
	poses := make([]*pose.Pose, len(m.Poses))
	for i, rec := range m.Poses {
		p, err := PoseFromRecord(rec)
		if err != nil {
			p = &pose.Pose{
				ID:          stringField(rec, "pose_id"),
				RecordError: fmt.Errorf("pose record %d: %w", i, err),
			}
		}
		poses[i] = p
	}
	return poses
}

// MergeRecords returns a copy of each input record with the fields of the
// matching result and a ranking_success flag added. Result fields replace
// input fields of the same name.
func MergeRecords(records []map[string]interface{}, results []*pose.RankingResult) ([]map[string]interface{}, error) {
	if len(records) != len(results) {
		return nil, errors.Newf(errors.ErrCodeInternal, "%d records but %d results", len(records), len(results))
	}
	out := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		merged := make(map[string]interface{}, len(rec)+16)
		for k, v := range rec {
			merged[k] = v
		}

		buf, err := json.Marshal(results[i])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "encode result")
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(buf, &fields); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "decode result")
		}
		for k, v := range fields {
			merged[k] = v
		}
		merged["ranking_success"] = results[i].IsSuccess()
		out[i] = merged
	}
	return out, nil
}

func stringField(rec map[string]interface{}, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func toBool(v interface{}) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	case int:
		return b != 0, nil
	case float64:
		return b != 0, nil
	}
	return false, fmt.Errorf("expected a boolean, got %T", v)
}

func toFloat(v interface{}) (float64, error) {
	switch f := v.(type) {
	case float64:
		return f, nil
	case int:
		return float64(f), nil
	case int64:
		return float64(f), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(f), 64)
	}
	return 0, fmt.Errorf("expected a number, got %T", v)
}

// toDuration accepts Go duration strings or a number of seconds.
func toDuration(v interface{}) (time.Duration, error) {
	if s, ok := v.(string); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
			return d, nil
		}
	}
	secs, err := toFloat(v)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
