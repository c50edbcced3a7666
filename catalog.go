package ncpboot

import (
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// A Catalog supplies firmware images by board and protocol family. The
// update orchestrator asks it for the newest release matching the
// probed board.
type Catalog interface {
	Latest(board string, family Family) (*FirmwareImage, error)
}

type catalogRelease struct {
	Version string `yaml:"version"`
	File    string `yaml:"file"`
}

// FileCatalog reads release lists from a YAML file laid out as board
// name, then family, then releases. Image paths are resolved relative
// to the catalog file.
type FileCatalog struct {
	dir    string
	boards map[string]map[string][]catalogRelease
}

// LoadCatalog parses the catalog YAML at path.
func LoadCatalog(path string) (*FileCatalog, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	var doc struct {
		Boards map[string]map[string][]catalogRelease `yaml:"boards"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "parse catalog")
	}
	if len(doc.Boards) == 0 {
		return nil, errors.New("catalog lists no boards")
	}
	return &FileCatalog{dir: filepath.Dir(path), boards: doc.Boards}, nil
}

// Latest picks the release with the highest version for the board and
// family and loads its image.
func (c *FileCatalog) Latest(board string, family Family) (*FirmwareImage, error) {
	releases := c.boards[board][family.String()]
	if len(releases) == 0 {
		return nil, errors.Errorf("no %s firmware listed for board %s", family, board)
	}
	best := releases[0]
	for _, rel := range releases[1:] {
		if compareVersions(rel.Version, best.Version) > 0 {
			best = rel
		}
	}
	file := best.File
	if !filepath.IsAbs(file) {
		file = filepath.Join(c.dir, file)
	}
	pkgLog.Debugf("catalog: %s %s -> %s (%s)", board, family, best.Version, best.File)
	img, err := LoadFirmware(file)
	if err != nil {
		return nil, err
	}
	img.Family = family
	return img, nil
}

// compareVersions orders dotted numeric versions part by part, treating
// missing parts as zero.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := 0, 0
		if i < len(as) {
			av, _ = strconv.Atoi(strings.TrimSpace(as[i]))
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(strings.TrimSpace(bs[i]))
		}
		switch {
		case av > bv:
			return 1
		case av < bv:
			return -1
		}
	}
	return 0
}
