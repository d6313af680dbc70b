package tagger

import "github.com/bogem/id3v2/v2"

// Test seams for failure injection.

func (service *Service) SetFreeSpaceHook(hook func(dir string) (uint64, error)) {
	service.freeSpace = hook
}

func (service *Service) SetPersistHook(hook func(tag *id3v2.Tag) error) {
	service.persist = hook
}
