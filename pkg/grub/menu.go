/*
Copyright © 2021 SUSE LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package grub

// MenuEntry is a boot entry iff Body is set, a submenu iff Entries is
// set. Submenus hold only boot entries; a nested submenu is flattened
// into its parent's Entries at evaluation time, so this type never
// nests more than one level deep.
type MenuEntry struct {
	ID      string
	HasID   bool
	Title   string
	Submenu bool
	Body    []Stmt       // set iff this is a boot entry (Submenu == false)
	Entries []*MenuEntry // set iff this is a submenu (Submenu == true)
}

func (m *MenuEntry) IsBootEntry() bool { return !m.Submenu }
func (m *MenuEntry) IsSubmenu() bool   { return m.Submenu }
